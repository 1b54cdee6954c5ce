package dietplan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nourishpath/platform/pkg/common/models"
)

type member struct {
	Key   string
	Value json.RawMessage
}

// orderedObject decodes a JSON object keeping member order. ok is false when
// raw is not an object.
func orderedObject(raw json.RawMessage) ([]member, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, false, err
	}
	if delim, isDelim := tok.(json.Delim); !isDelim || delim != '{' {
		return nil, false, nil
	}

	var members []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false, err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false, err
		}
		members = append(members, member{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, false, err
	}
	return members, true, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// scalarText renders a JSON string unquoted and any other value as its
// compact JSON text.
func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		return compact.String()
	}
	return strings.TrimSpace(string(raw))
}

// ParseMacros accepts either {"protein": "150g", ...} or a flat string.
// Any other JSON value is kept as text.
func ParseMacros(raw json.RawMessage) (models.Macros, error) {
	if isAbsent(raw) {
		return models.Macros{}, nil
	}
	if !json.Valid(raw) {
		return models.Macros{}, fmt.Errorf("macros: invalid JSON")
	}
	members, isObject, err := orderedObject(raw)
	if err != nil {
		return models.Macros{}, fmt.Errorf("macros: %w", err)
	}
	if !isObject {
		return models.Macros{Text: scalarText(raw)}, nil
	}

	macros := models.Macros{Entries: make([]models.MacroEntry, 0, len(members))}
	for _, m := range members {
		name := strings.TrimSpace(m.Key)
		if name == "" {
			continue
		}
		macros.Entries = append(macros.Entries, models.MacroEntry{Name: name, Value: scalarText(m.Value)})
	}
	return macros, nil
}

// ParseWeeklyPlan accepts {"Monday": {"Breakfast": "Oats", ...}, ...}, a day
// mapped straight to text, or a flat string for the whole week.
func ParseWeeklyPlan(raw json.RawMessage) (models.WeeklyPlan, error) {
	if isAbsent(raw) {
		return models.WeeklyPlan{}, nil
	}
	if !json.Valid(raw) {
		return models.WeeklyPlan{}, fmt.Errorf("weekly plan: invalid JSON")
	}
	days, isObject, err := orderedObject(raw)
	if err != nil {
		return models.WeeklyPlan{}, fmt.Errorf("weekly plan: %w", err)
	}
	if !isObject {
		return models.WeeklyPlan{Text: scalarText(raw)}, nil
	}

	plan := models.WeeklyPlan{Days: make([]models.PlanDay, 0, len(days))}
	for _, day := range days {
		name := strings.TrimSpace(day.Key)
		if name == "" {
			continue
		}
		slots, slotsIsObject, err := orderedObject(day.Value)
		if err != nil {
			return models.WeeklyPlan{}, fmt.Errorf("weekly plan %s: %w", name, err)
		}
		entry := models.PlanDay{Day: name}
		if !slotsIsObject {
			entry.Text = scalarText(day.Value)
		} else {
			for _, slot := range slots {
				entry.Meals = append(entry.Meals, models.MealSlot{Slot: strings.TrimSpace(slot.Key), Description: scalarText(slot.Value)})
			}
		}
		plan.Days = append(plan.Days, entry)
	}
	return plan, nil
}
