package cmlyst

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Menu is a navigation menu bound to zero or more layout locations.
// The id is a short user-chosen key, not auto-generated. Entries are
// flat string mappings (label, target URL, position and so on) whose
// order is preserved across save and load.
type Menu struct {
	ID           string
	Name         string
	Entries      []map[string]string
	Locations    []string
	AutoAddPages bool
}

// menuDoc is the persisted body of one menu inside the single JSON
// document stored under the "menus" settings key, keyed by menu id.
type menuDoc struct {
	Name         string              `json:"name"`
	AutoAddPages bool                `json:"autoAddPages"`
	Entries      []map[string]string `json:"entries"`
	Locations    []string            `json:"locations"`
}

// decodeMenus rebuilds the menu list and the location index from the
// raw menus document. An absent or malformed document yields an empty
// menu set. Menus are iterated in ascending id order because a JSON
// object carries no property order; the location index keeps the first
// menu claiming a location (lowest id wins a contested location).
func decodeMenus(raw string, log *zap.Logger) ([]*Menu, map[string]*Menu) {
	locations := make(map[string]*Menu)
	if raw == "" {
		return nil, locations
	}

	var doc map[string]menuDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		log.Warn("malformed menus document", zap.Error(err))
		return nil, locations
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	menus := make([]*Menu, 0, len(ids))
	for _, id := range ids {
		body := doc[id]
		menu := &Menu{
			ID:           id,
			Name:         body.Name,
			Entries:      body.Entries,
			Locations:    body.Locations,
			AutoAddPages: body.AutoAddPages,
		}
		for _, location := range menu.Locations {
			if _, taken := locations[location]; !taken {
				locations[location] = menu
			}
		}
		menus = append(menus, menu)
	}
	return menus, locations
}

func encodeMenus(menus []*Menu) (string, error) {
	doc := make(map[string]menuDoc, len(menus))
	for _, m := range menus {
		doc[m.ID] = menuDoc{
			Name:         m.Name,
			AutoAddPages: m.AutoAddPages,
			Entries:      m.Entries,
			Locations:    m.Locations,
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Menus returns the cached menu set in id order.
func (e *Engine) Menus(c echo.Context) []*Menu {
	e.ensureFresh(c)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Menu(nil), e.menus...)
}

// MenuLocations returns the location index: each named placement slot
// maps to the single menu assigned to it.
func (e *Engine) MenuLocations(c echo.Context) map[string]*Menu {
	e.ensureFresh(c)
	e.mu.RLock()
	defer e.mu.RUnlock()
	index := make(map[string]*Menu, len(e.menuLocations))
	for location, menu := range e.menuLocations {
		index[location] = menu
	}
	return index
}

// SaveMenu upserts menu into the set (replacing any menu sharing its
// id) and persists all menus as one JSON document through the settings
// write path, which also bumps the "modified" token and reloads the
// caches.
func (e *Engine) SaveMenu(c echo.Context, menu *Menu) error {
	e.ensureFresh(c)

	e.mu.RLock()
	menus := make([]*Menu, 0, len(e.menus)+1)
	for _, m := range e.menus {
		if menu != nil && m.ID == menu.ID {
			continue
		}
		menus = append(menus, m)
	}
	e.mu.RUnlock()
	if menu != nil {
		menus = append(menus, menu)
	}

	return e.persistMenus(c, menus)
}

// RemoveMenu deletes the menu with the given id and persists the
// remaining set. An unknown id is a no-op: nothing is written.
func (e *Engine) RemoveMenu(c echo.Context, id string) error {
	e.ensureFresh(c)

	e.mu.RLock()
	found := false
	menus := make([]*Menu, 0, len(e.menus))
	for _, m := range e.menus {
		if m.ID == id {
			found = true
			continue
		}
		menus = append(menus, m)
	}
	e.mu.RUnlock()
	if !found {
		return nil
	}

	return e.persistMenus(c, menus)
}

func (e *Engine) persistMenus(c echo.Context, menus []*Menu) error {
	doc, err := encodeMenus(menus)
	if err != nil {
		return fmt.Errorf("cmlyst: encode menus: %w", err)
	}
	return e.SetSettingsValue(c, settingMenus, doc)
}
