package amortization

// resolveBillDays expands sparse rows into one row per term. Terms before
// the first active custom row take the default; later terms without a row
// inherit the nearest preceding custom value.
func resolveBillDays(rows []BillDaysConfig, n, def int) []BillDaysConfig {
	custom := make(map[int]int, len(rows))
	for _, r := range rows {
		if isActive(r.Active) && r.Kind != BillDaysGenerated && r.Kind != BillDaysDefault {
			custom[r.TermNumber] = r.Days
		}
	}

	out := make([]BillDaysConfig, n)
	current, seen := def, false
	for term := 0; term < n; term++ {
		if d, ok := custom[term]; ok {
			current, seen = d, true
			out[term] = BillDaysConfig{TermNumber: term, Days: d, Kind: BillDaysCustom}
			continue
		}
		if seen {
			out[term] = BillDaysConfig{TermNumber: term, Days: current, Kind: BillDaysGenerated}
		} else {
			out[term] = BillDaysConfig{TermNumber: term, Days: def, Kind: BillDaysDefault}
		}
	}
	return out
}
