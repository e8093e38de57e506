package fetch

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

const banner = "########################\n"

// Failed reports whether any item failed.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures) > 0
}

// WriteLog writes the end-of-run failure summary, one
// "url:<locator>, name:<label>" line per failed item, sorted by locator.
func (r *Report) WriteLog(w io.Writer) error {
	r.mu.Lock()
	failures := slices.Clone(r.Failures)
	r.mu.Unlock()

	slices.SortFunc(failures, func(a, b Failure) int {
		return strings.Compare(a.Item.Locator, b.Item.Locator)
	})

	var b strings.Builder
	b.WriteString(banner)
	b.WriteString("SUMMARY OF FAILED FILES:\n")
	b.WriteString(banner)
	for _, f := range failures {
		fmt.Fprintf(&b, "url:%s, name:%s\n", f.Item.Locator, f.Item.Label)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
