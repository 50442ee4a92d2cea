package stylemutate

import "errors"

// ErrSheetNotFound is returned when a sheet-rules-insert/delete/replace op
// names an owner-backed sheetId whose owner element never materialized
// within the retry budget (§4.8, §7).
var ErrSheetNotFound = errors.New("stylemutate: sheet not found")
