package deevid

import (
	"bytes"
	"encoding/json"
	"strings"
)

// flexID decodes an identifier the API sends either as a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// urlField decodes a URL the API sends either as a string or a list of strings.
type urlField []string

func (u *urlField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*u = nil
		return nil
	case len(b) > 0 && b[0] == '[':
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*u = list
		return nil
	default:
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = urlField{s}
		return nil
	}
}

func (u urlField) first() string {
	if len(u) == 0 {
		return ""
	}
	return u[0]
}

// videoList accepts both {"data": [...]} and a bare list under the outer data key.
type videoList []videoTask

func (v *videoList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []videoTask
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*v = list
		return nil
	}
	var wrapped struct {
		Data []videoTask `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*v = wrapped.Data
	return nil
}

// --- Deevid response types ---

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type uploadResponse struct {
	Data struct {
		Data struct {
			ID flexID `json:"id"`
		} `json:"data"`
	} `json:"data"`
}

type submitResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Data struct {
		Data struct {
			TaskID flexID `json:"taskId"`
		} `json:"data"`
	} `json:"data"`
}

type assetsResponse struct {
	Data struct {
		Data struct {
			Groups []struct {
				Items []struct {
					Detail struct {
						Creation struct {
							TaskID              flexID   `json:"taskId"`
							TaskState           string   `json:"taskState"`
							NoWaterMarkImageURL []string `json:"noWaterMarkImageUrl"`
						} `json:"creation"`
					} `json:"detail"`
				} `json:"items"`
			} `json:"groups"`
		} `json:"data"`
	} `json:"data"`
}

type videoTasksResponse struct {
	Data struct {
		Data videoList `json:"data"`
	} `json:"data"`
}

type videoTask struct {
	TaskID              flexID   `json:"taskId"`
	TaskState           string   `json:"taskState"`
	NoWaterMarkVideoURL urlField `json:"noWaterMarkVideoUrl"`
	NoWatermarkVideoURL urlField `json:"noWatermarkVideoUrl"`
}
