package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
)

// SeedFile describes reference data loaded into the memory store at startup.
type SeedFile struct {
	Customers []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"customers"`
	Lots []struct {
		ID                string `yaml:"id"`
		MaterialName      string `yaml:"material_name"`
		RemainingQuantity string `yaml:"remaining_quantity"`
		CostPerUnit       string `yaml:"cost_per_unit"`
	} `yaml:"lots"`
	Grants map[string][]string `yaml:"grants"`
}

// LoadSeedFile reads path and applies it to st.
func LoadSeedFile(path string, st *memory.Store) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("app: open seed: %w", err)
	}
	defer f.Close()
	return ApplySeed(f, st)
}

// ApplySeed decodes a YAML seed document and applies it to st.
func ApplySeed(r io.Reader, st *memory.Store) error {
	var seed SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("app: decode seed: %w", err)
	}
	for _, c := range seed.Customers {
		if c.ID == "" {
			return errors.New("app: seed customer without id")
		}
		st.AddCustomer(sales.Customer{ID: c.ID, Name: c.Name})
	}
	for i, l := range seed.Lots {
		lot := inventory.Lot{MaterialName: l.MaterialName}
		if l.ID != "" {
			id, err := uuid.Parse(l.ID)
			if err != nil {
				return fmt.Errorf("app: seed lot %d: %w", i, err)
			}
			lot.ID = id
		}
		qty, err := decimal.NewFromString(l.RemainingQuantity)
		if err != nil {
			return fmt.Errorf("app: seed lot %d remaining_quantity: %w", i, err)
		}
		if qty.IsNegative() {
			return fmt.Errorf("app: seed lot %d remaining_quantity must not be negative", i)
		}
		cost, err := decimal.NewFromString(l.CostPerUnit)
		if err != nil {
			return fmt.Errorf("app: seed lot %d cost_per_unit: %w", i, err)
		}
		lot.RemainingQuantity, lot.CostPerUnit = qty, cost
		st.AddLot(lot)
	}
	for actor, perms := range seed.Grants {
		st.Grant(actor, perms...)
	}
	return nil
}
