package markup

// Row is one data row of an HTML timetable listing.
type Row struct {
	// Index is the position of the row among all rows matched by the row
	// selector, header rows included.
	Index int
	// Cells holds the trimmed text of each td cell, in order.
	Cells []string
	// DateHint is the text of the closest preceding day header row, used
	// when the row itself does not carry a date.
	DateHint string
}

// Cell returns the text of cell i, or "" when i is out of range or negative.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// Rows extracts timetable rows. Rows matching headerSelector, or rows that
// consist only of th cells, are day headers: they are not returned but their
// text becomes the DateHint of the rows that follow. headerSelector may be
// empty.
func (d *Document) Rows(rowSelector, headerSelector string) ([]Row, error) {
	rows, err := d.Select(rowSelector)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(rows))
	hint := ""
	for i, row := range rows {
		if headerSelector != "" {
			isHeader, err := row.Is(headerSelector)
			if err != nil {
				return nil, err
			}
			if isHeader {
				hint = row.Text()
				continue
			}
		}

		cells, err := row.Select("td")
		if err != nil {
			return nil, err
		}
		if len(cells) == 0 {
			if th, _ := row.Select("th"); len(th) > 0 {
				hint = row.Text()
			}
			continue
		}

		texts := make([]string, len(cells))
		for j, c := range cells {
			texts[j] = c.Text()
		}
		out = append(out, Row{Index: i, Cells: texts, DateHint: hint})
	}
	return out, nil
}
