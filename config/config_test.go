package config_test

import (
	"testing"

	"github.com/sw965/playfun/config"
)

func TestLoadDefaults(t *testing.T) {
	d := config.Defaults()
	v := config.New()
	c, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MinNexts != d.MinNexts || c.MaxNexts != d.MaxNexts {
		t.Fatalf("nexts bounds not seeded from defaults: %+v", c)
	}
	if c.MotifAlpha != d.MotifAlpha {
		t.Fatalf("motif_alpha not seeded from defaults: got %v", c.MotifAlpha)
	}
}

func TestLoadRejectsInvertedBounds(t *testing.T) {
	v := config.New()
	v.Set("min_nexts", 100)
	v.Set("max_nexts", 10)
	if _, err := config.Load(v); err == nil {
		t.Fatal("want error for inverted [min_nexts,max_nexts]")
	}
}

func TestLoadRejectsMotifAlphaOutOfRange(t *testing.T) {
	v := config.New()
	v.Set("motif_alpha", 1.5)
	if _, err := config.Load(v); err == nil {
		t.Fatal("want error for motif_alpha outside (0,1)")
	}
}
