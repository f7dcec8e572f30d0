package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// importFile is the YAML document the tool reads. Each account is either an
// "identifier:secret" string or a mapping with identifier and secret keys.
//
//	tenant_key: sk-live-0123456789
//	accounts:
//	  - alice@example.com:hunter2
//	  - identifier: bob@example.com
//	    secret: "p:ss"
type importFile struct {
	TenantKey string      `yaml:"tenant_key"`
	TenantID  string      `yaml:"tenant_id"`
	Accounts  []yaml.Node `yaml:"accounts"`
}

type accountEntry struct {
	Identifier string `yaml:"identifier"`
	Secret     string `yaml:"secret"`
}

// account is one parsed entry. Line entries are split by the pool, structured
// entries are added as given.
type account struct {
	line       string
	identifier string
	secret     string
}

func (a account) structured() bool { return a.line == "" }

type importPlan struct {
	tenantKey string
	tenantID  uuid.UUID
	accounts  []account
}

func parseImportFile(r io.Reader) (*importPlan, error) {
	var f importFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	plan := &importPlan{tenantKey: strings.TrimSpace(f.TenantKey)}
	if f.TenantID != "" {
		id, err := uuid.Parse(f.TenantID)
		if err != nil {
			return nil, fmt.Errorf("tenant_id: %w", err)
		}
		plan.tenantID = id
	}

	for i := range f.Accounts {
		node := &f.Accounts[i]
		switch node.Kind {
		case yaml.ScalarNode:
			plan.accounts = append(plan.accounts, account{line: node.Value})
		case yaml.MappingNode:
			var e accountEntry
			if err := node.Decode(&e); err != nil {
				return nil, fmt.Errorf("accounts[%d] (line %d): %w", i, node.Line, err)
			}
			if strings.TrimSpace(e.Identifier) == "" || e.Secret == "" {
				return nil, fmt.Errorf("accounts[%d] (line %d): identifier and secret are required", i, node.Line)
			}
			plan.accounts = append(plan.accounts, account{identifier: e.Identifier, secret: e.Secret})
		default:
			return nil, fmt.Errorf("accounts[%d] (line %d): expected a string or a mapping", i, node.Line)
		}
	}
	if len(plan.accounts) == 0 {
		return nil, errors.New("no accounts in file")
	}
	return plan, nil
}

// resolveTenant applies command line overrides. Exactly one of a tenant key
// and a tenant id must remain.
func (p *importPlan) resolveTenant(keyFlag, idFlag string) error {
	if keyFlag != "" {
		p.tenantKey = keyFlag
	}
	if idFlag != "" {
		id, err := uuid.Parse(idFlag)
		if err != nil {
			return fmt.Errorf("-tenant-id: %w", err)
		}
		p.tenantID = id
	}
	hasKey, hasID := p.tenantKey != "", p.tenantID != uuid.Nil
	switch {
	case hasKey && hasID:
		return errors.New("give either a tenant key or a tenant id, not both")
	case !hasKey && !hasID:
		return errors.New("a tenant key or a tenant id is required")
	}
	return nil
}
