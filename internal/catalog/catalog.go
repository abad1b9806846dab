// Package catalog loads the shop item and achievement catalogs from YAML and
// reconciles them with the stores. The file is the source of truth: items
// missing from it are deactivated, never deleted, so old purchases keep their
// references.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/storage"
)

// Catalog is the parsed document. Achievements are optional; the server keeps
// its built-in definitions when the section is absent.
type Catalog struct {
	Items        []shop.Item
	Achievements []achievement.Achievement
}

// file is the YAML document shape.
type file struct {
	Items        []itemEntry        `yaml:"items"`
	Achievements []achievementEntry `yaml:"achievements"`
}

type itemEntry struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Zone         string `yaml:"zone"`
	PriceCents   int64  `yaml:"price_cents"`
	Currency     string `yaml:"currency"`
	AttackBonus  int    `yaml:"attack_bonus"`
	DefenseBonus int    `yaml:"defense_bonus"`
	Stackable    bool   `yaml:"stackable"`
	Active       *bool  `yaml:"active"`
}

type achievementEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Metric      string `yaml:"metric"`
	Threshold   int    `yaml:"threshold"`
	Tier        int    `yaml:"tier"`
}

// SyncResult reports what a reconciliation changed.
type SyncResult struct {
	ItemsUpserted    int `json:"items_upserted"`
	ItemsDeactivated int `json:"items_deactivated"`
	Achievements     int `json:"achievements_upserted"`
}

// Load reads and validates a catalog file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse validates a catalog document.
func Parse(data []byte) (Catalog, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Catalog{}, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Items) == 0 {
		return Catalog{}, fmt.Errorf("catalog defines no items")
	}

	var c Catalog
	seen := make(map[string]bool, len(doc.Items))
	for i, e := range doc.Items {
		item, err := e.toItem()
		if err != nil {
			return Catalog{}, fmt.Errorf("item %d (%s): %w", i, e.ID, err)
		}
		if seen[item.ID] {
			return Catalog{}, fmt.Errorf("item %d: duplicate id %q", i, item.ID)
		}
		seen[item.ID] = true
		c.Items = append(c.Items, item)
	}

	seenAch := make(map[string]bool, len(doc.Achievements))
	for i, e := range doc.Achievements {
		def, err := e.toAchievement()
		if err != nil {
			return Catalog{}, fmt.Errorf("achievement %d (%s): %w", i, e.ID, err)
		}
		if seenAch[def.ID] {
			return Catalog{}, fmt.Errorf("achievement %d: duplicate id %q", i, def.ID)
		}
		seenAch[def.ID] = true
		c.Achievements = append(c.Achievements, def)
	}
	return c, nil
}

// Sync upserts every catalog entry and deactivates stored items the catalog
// no longer mentions.
func Sync(ctx context.Context, items storage.ItemStore, achievements storage.AchievementStore, c Catalog) (SyncResult, error) {
	var result SyncResult

	inCatalog := make(map[string]bool, len(c.Items))
	for _, item := range c.Items {
		if _, err := items.UpsertItem(ctx, item); err != nil {
			return result, fmt.Errorf("upsert item %s: %w", item.ID, err)
		}
		inCatalog[item.ID] = true
		result.ItemsUpserted++
	}

	stored, err := items.ListItems(ctx, false)
	if err != nil {
		return result, fmt.Errorf("list stored items: %w", err)
	}
	for _, item := range stored {
		if inCatalog[item.ID] || !item.Active {
			continue
		}
		item.Active = false
		if _, err := items.UpsertItem(ctx, item); err != nil {
			return result, fmt.Errorf("deactivate item %s: %w", item.ID, err)
		}
		result.ItemsDeactivated++
	}

	if achievements != nil {
		for _, def := range c.Achievements {
			if _, err := achievements.UpsertAchievement(ctx, def); err != nil {
				return result, fmt.Errorf("upsert achievement %s: %w", def.ID, err)
			}
			result.Achievements++
		}
	}
	return result, nil
}

func (e itemEntry) toItem() (shop.Item, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return shop.Item{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return shop.Item{}, fmt.Errorf("name is required")
	}
	if !shop.ValidZone(e.Zone) {
		return shop.Item{}, fmt.Errorf("unknown zone %q", e.Zone)
	}
	if e.PriceCents < 0 {
		return shop.Item{}, fmt.Errorf("price_cents must not be negative")
	}
	if e.AttackBonus < 0 || e.DefenseBonus < 0 {
		return shop.Item{}, fmt.Errorf("bonuses must not be negative")
	}
	if e.Zone == shop.ZoneBillboard && !e.Stackable {
		return shop.Item{}, fmt.Errorf("billboard items must be stackable")
	}

	currency := strings.ToUpper(strings.TrimSpace(e.Currency))
	if currency == "" {
		currency = "BRL"
	}
	active := true
	if e.Active != nil {
		active = *e.Active
	}

	return shop.Item{
		ID:           id,
		Name:         strings.TrimSpace(e.Name),
		Description:  strings.TrimSpace(e.Description),
		Zone:         e.Zone,
		PriceCents:   e.PriceCents,
		Currency:     currency,
		AttackBonus:  e.AttackBonus,
		DefenseBonus: e.DefenseBonus,
		Stackable:    e.Stackable,
		Active:       active,
	}, nil
}

func (e achievementEntry) toAchievement() (achievement.Achievement, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return achievement.Achievement{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return achievement.Achievement{}, fmt.Errorf("name is required")
	}
	if !achievement.ValidMetric(e.Metric) {
		return achievement.Achievement{}, fmt.Errorf("unknown metric %q", e.Metric)
	}
	if e.Threshold < 1 {
		return achievement.Achievement{}, fmt.Errorf("threshold must be at least 1")
	}
	tier := e.Tier
	if tier < 1 {
		tier = 1
	}
	return achievement.Achievement{
		ID:          id,
		Name:        strings.TrimSpace(e.Name),
		Description: strings.TrimSpace(e.Description),
		Metric:      e.Metric,
		Threshold:   e.Threshold,
		Tier:        tier,
	}, nil
}
