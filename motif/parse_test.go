package motif_test

import (
	"strings"
	"testing"

	"github.com/sw965/playfun/motif"
)

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	src := strings.NewReader(strings.Join([]string{
		"# header",
		"",
		"1.0 0108",
		"2.5 ff",
	}, "\n"))
	motifs, err := motif.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(motifs) != 2 {
		t.Fatalf("want 2 motifs, got %d", len(motifs))
	}
	if motifs[0].Weight != 1.0 || len(motifs[0].Inputs) != 2 {
		t.Fatalf("unexpected first motif: %+v", motifs[0])
	}
	if motifs[1].Weight != 2.5 || len(motifs[1].Inputs) != 1 {
		t.Fatalf("unexpected second motif: %+v", motifs[1])
	}
}

func TestParseRejectsEmptyInputs(t *testing.T) {
	if _, err := motif.Parse(strings.NewReader("1.0 \n")); err == nil {
		t.Fatal("want error for motif with no fields")
	}
}

func TestParseRejectsBadHex(t *testing.T) {
	if _, err := motif.Parse(strings.NewReader("1.0 zz\n")); err == nil {
		t.Fatal("want error for invalid hex inputs")
	}
}
