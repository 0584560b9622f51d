package api

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"replicator/internal/coerce"
	"replicator/internal/sink/memory"
)

// ==== Типы сортировки и параметров листинга ====

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []SortKey
	Filters map[string][]string // поле -> допустимые значения (строково)
}

// ==== Парсинг query-параметров ====

func parseListParams(q url.Values) ListParams {
	// limit
	limit := 50
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			limit = n
		}
	}

	// offset
	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	// sort
	var sortKeys []SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	for _, p := range strings.Split(sv, ",") {
		p = strings.TrimSpace(p)
		desc := false
		if strings.HasPrefix(p, "-") {
			desc = true
			p = strings.TrimPrefix(p, "-")
		} else if strings.HasPrefix(p, "+") {
			p = strings.TrimPrefix(p, "+")
		}
		if p != "" {
			sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
		}
	}

	// фильтры (исключаем служебные ключи)
	filters := make(map[string][]string)
	for key, vals := range q {
		switch key {
		case "offset", "limit", "sort", "_offset", "_limit", "_sort":
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	return ListParams{Limit: limit, Offset: offset, Sort: sortKeys, Filters: filters}
}

// filterRecords оставляет записи, у которых каждое фильтруемое поле равно одному из значений.
func filterRecords(all []*memory.Record, filters map[string][]string) []*memory.Record {
	if len(filters) == 0 {
		return all
	}
	out := make([]*memory.Record, 0, len(all))
next:
	for _, rec := range all {
		for field, want := range filters {
			v, ok := rec.Entity.Get(field)
			if !ok || !containsString(want, coerce.Format(v)) {
				continue next
			}
		}
		out = append(out, rec)
	}
	return out
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ==== Сортировка ====

// сравнение двух записей по одному ключу; nil всегда в конце
func cmpByKey(a, b *memory.Record, key string, desc bool) int {
	va, _ := a.Entity.Get(key)
	vb, _ := b.Entity.Get(key)

	na, nb := va == nil, vb == nil
	if na && nb {
		return 0
	}
	if na != nb {
		if na {
			return +1
		}
		return -1
	}

	rel := 0
	if fa, ok := number(va); ok {
		if fb, ok := number(vb); ok {
			switch {
			case fa < fb:
				rel = -1
			case fa > fb:
				rel = +1
			}
			if desc {
				rel = -rel
			}
			return rel
		}
	}
	rel = strings.Compare(coerce.Format(va), coerce.Format(vb))
	if desc {
		rel = -rel
	}
	return rel
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func sortRecordsMulti(records []*memory.Record, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpByKey(records[i], records[j], k.Field, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
