package commands

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"

	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

func newTable(buf *bytes.Buffer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func prettyPrintKinds(c catalog.Catalog) string {
	var buf bytes.Buffer
	table := newTable(&buf, "KIND", "FILE", "URL")

	for _, kind := range c.Kinds() {
		entry := c[kind]
		table.Append([]string{string(kind), entry.FileName(), entry.URL})
	}

	table.Render()
	return buf.String()
}

func prettyPrintManifest(p bundle.Paths, m *bundle.Manifest) string {
	var buf bytes.Buffer
	table := newTable(&buf, "FILE", "PATH", "SIZE", "DIGEST")

	for _, role := range bundle.Roles {
		info := m.Files[role]
		table.Append([]string{
			string(role),
			p.Path(role),
			units.HumanSize(float64(info.Size)),
			shortDigest(info.Digest.Encoded()),
		})
	}

	table.Render()
	return buf.String()
}

type score struct {
	index int
	value float64
}

// topK returns the k largest elements of t in descending order.
func topK(t *tensor.Tensor, k int) []score {
	scores := make([]score, t.Len())
	for i := range scores {
		scores[i] = score{index: i, value: t.At(i)}
	}
	slices.SortStableFunc(scores, func(a, b score) int {
		return cmp.Compare(b.value, a.value)
	})

	return scores[:min(k, len(scores))]
}

func prettyPrintScores(scores []score) string {
	var buf bytes.Buffer
	table := newTable(&buf, "RANK", "INDEX", "SCORE")

	for rank, s := range scores {
		table.Append([]string{
			fmt.Sprint(rank + 1),
			fmt.Sprint(s.index),
			fmt.Sprintf("%.6f", s.value),
		})
	}

	table.Render()
	return buf.String()
}

func shortDigest(encoded string) string {
	if len(encoded) > 12 {
		return encoded[:12]
	}
	return encoded
}
