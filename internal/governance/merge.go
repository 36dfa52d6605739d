package governance

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lazypower/lore/internal/store"
)

// MergeLists concatenates lists in order, keeping the first occurrence of
// every value. Values compare by canonical JSON, so {"a":1,"b":2} and
// {"b":2,"a":1} are the same item.
func MergeLists(lists ...store.List) store.List {
	seen := make(map[string]bool)
	var out store.List
	for _, l := range lists {
		for _, raw := range l {
			key := store.CanonicalKey(raw)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, raw)
		}
	}
	return out
}

// BumpPatch increments the patch component of a MAJOR.MINOR.PATCH version.
// Anything else yields def.
func BumpPatch(version, def string) string {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) != 3 {
		return def
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || strings.HasPrefix(p, "+") {
			return def
		}
		nums[i] = n
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]+1)
}

// Targets maps a source status to the status a demotion moves it to.
type Targets struct {
	Approved store.Status `json:"approved" toml:"approved"`
	Draft    store.Status `json:"draft" toml:"draft"`
}

// DefaultTargets returns the demotion targets for kind: approved entities
// are deprecated and drafts abandoned; tools are rejected either way.
func DefaultTargets(kind store.Kind) Targets {
	if kind == store.KindTool {
		return Targets{Approved: store.StatusRejected, Draft: store.StatusRejected}
	}
	return Targets{Approved: store.StatusDeprecated, Draft: store.StatusAbandoned}
}

func (t Targets) withDefaults(kind store.Kind) Targets {
	def := DefaultTargets(kind)
	if t.Approved == "" {
		t.Approved = def.Approved
	}
	if t.Draft == "" {
		t.Draft = def.Draft
	}
	return t
}

// For returns the demotion target for status s, or false when s is not demotable.
func (t Targets) For(s store.Status) (store.Status, bool) {
	switch s {
	case store.StatusApproved:
		return t.Approved, t.Approved != ""
	case store.StatusDraft:
		return t.Draft, t.Draft != ""
	}
	return "", false
}

// MergePlan describes one duplicate group and how it collapses.
type MergePlan struct {
	Key          string     `json:"key"`
	Kind         store.Kind `json:"kind"`
	CanonicalID  int64      `json:"canonical_id"`
	DuplicateIDs []int64    `json:"duplicate_ids"`
	FromVersion  string     `json:"from_version"`
	ToVersion    string     `json:"to_version"`
	// Merged is the canonical entity as it will be written.
	Merged store.Entity `json:"merged"`
	// Demotions lists the status change planned for each duplicate.
	Demotions []Action `json:"demotions"`
}

// groupKey buckets entities that describe the same thing. Scoped entities
// group by (kind tag, scope); others by (kind tag, domain, lowercased name),
// with the domain ignored when merging across domains.
func groupKey(e *store.Entity, acrossDomains bool) string {
	tag := e.KindTag
	if tag == "" {
		tag = e.Kind.DefaultTag()
	}
	if scope := strings.TrimSpace(e.Scope); scope != "" {
		return "scope|" + tag + "|" + scope
	}
	domain := e.Domain()
	if acrossDomains {
		domain = "*"
	}
	return "name|" + tag + "|" + domain + "|" + strings.ToLower(strings.TrimSpace(e.Name))
}

// groupEntities buckets entities by key, skipping singletons. Keys come back sorted.
func groupEntities(es []store.Entity, acrossDomains bool) ([]string, map[string][]store.Entity) {
	groups := make(map[string][]store.Entity)
	for _, e := range es {
		k := groupKey(&e, acrossDomains)
		groups[k] = append(groups[k], e)
	}
	var keys []string
	for k, g := range groups {
		if len(g) > 1 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, groups
}

// byPreference orders the best canonical candidate first: higher status
// rank, then newer id.
func byPreference(a, b store.Entity) int {
	return cmp.Or(
		cmp.Compare(store.StatusRank(b.EffectiveStatus()), store.StatusRank(a.EffectiveStatus())),
		cmp.Compare(b.ID, a.ID),
	)
}

// planMerge computes the merge of one group of two or more entities. It is
// pure: nothing is written.
func planMerge(key string, group []store.Entity, defaultVersion string, targets Targets) MergePlan {
	sorted := slices.Clone(group)
	slices.SortStableFunc(sorted, byPreference)
	canonical, dups := sorted[0], sorted[1:]

	merged := canonical
	for _, f := range store.ListFields {
		lists := make([]store.List, 0, len(sorted))
		for i := range sorted {
			lists = append(lists, f.Get(&sorted[i]))
		}
		f.Set(&merged, MergeLists(lists...))
	}
	if strings.TrimSpace(merged.Description) == "" {
		for _, d := range dups {
			if strings.TrimSpace(d.Description) != "" {
				merged.Description = d.Description
				break
			}
		}
	}
	merged.Version = BumpPatch(canonical.Version, defaultVersion)

	plan := MergePlan{
		Key:         key,
		Kind:        canonical.Kind,
		CanonicalID: canonical.ID,
		FromVersion: canonical.Version,
		ToVersion:   merged.Version,
		Merged:      merged,
		Demotions:   []Action{},
	}
	for _, d := range dups {
		plan.DuplicateIDs = append(plan.DuplicateIDs, d.ID)
		from := d.EffectiveStatus()
		act := Action{Kind: d.Kind, ID: d.ID, Op: "demote", From: string(from),
			Reason: fmt.Sprintf("merged into %d", canonical.ID)}
		if to, ok := targets.For(from); ok {
			act.To = string(to)
		}
		plan.Demotions = append(plan.Demotions, act)
	}
	return plan
}

func mergeNotes(p MergePlan) string {
	ids, _ := json.Marshal(p.DuplicateIDs)
	return fmt.Sprintf("dedupe merge of %s", ids)
}
