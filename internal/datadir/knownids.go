package datadir

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/lampioni/lampioni/internal/fetcher"
)

type knownIDs struct {
	BaselineIDs *[]int64            `json:"baseline_ids"`
	NewIDs      *map[string][]int64 `json:"new_ids"`
}

func decodeKnownIDs(data []byte) ([]int64, map[string][]int64, error) {
	k, err := fetcher.DecodeJSONBytes[knownIDs](data)
	if err != nil {
		return nil, nil, malformed(KnownIDsFile, "decode: %v", err)
	}
	if k.BaselineIDs == nil {
		return nil, nil, malformed(KnownIDsFile, "missing baseline_ids")
	}
	if k.NewIDs == nil {
		return nil, nil, malformed(KnownIDsFile, "missing new_ids")
	}
	return *k.BaselineIDs, *k.NewIDs, nil
}

// encodeKnownIDs writes the ledger with one id per line. Ids are ascending
// and dates are ascending.
func encodeKnownIDs(baseline []int64, newIDs map[string][]int64) []byte {
	var buf bytes.Buffer
	buf.WriteString("{\n  \"baseline_ids\": [\n")
	writeIDs(&buf, baseline, "    ")
	buf.WriteString("  ],\n  \"new_ids\": {\n")

	dates := make([]string, 0, len(newIDs))
	for d := range newIDs {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for i, d := range dates {
		buf.WriteString("    ")
		buf.WriteString(strconv.Quote(d))
		buf.WriteString(": [\n")
		writeIDs(&buf, newIDs[d], "      ")
		buf.WriteString("    ]")
		if i < len(dates)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("  }\n}\n")
	return buf.Bytes()
}

func writeIDs(buf *bytes.Buffer, ids []int64, indent string) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, id := range sorted {
		buf.WriteString(indent)
		buf.WriteString(strconv.FormatInt(id, 10))
		if i < len(sorted)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
}
