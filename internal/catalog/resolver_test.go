package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testCatalog() []IndexedProduct {
	return Index([]Product{
		{ID: "p1", Slug: "paracetamol-500mg-strip", Name: "Paracetamol 500mg Strip"},
		{ID: "p2", Slug: "ibuprofen-200mg-tablet", Name: "Ibuprofen 200mg Tablet"},
		{ID: "p3", Slug: "oralit-sachet", Name: "Oralit"},
		{ID: "p4", Slug: "vitamin-c-500mg-tablet", Name: "Vitamin C 500mg"},
		{ID: "p5", Slug: "obh-combi-sirup", Name: "OBH Combi Batuk Flu"},
	})
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Paracetamol 500mg":  "paracetamol-500mg",
		"  Vitamín C  ":      "vitamin-c",
		"OBH (Combi)!":       "obh-combi",
		"ibuprofen--200 mg":  "ibuprofen-200-mg",
		"":                   "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalizeAliasAndPackaging(t *testing.T) {
	if got := Canonicalize("Acetaminophen 500mg"); got != "paracetamol-500mg" {
		t.Fatalf("alias + packaging strip failed, got %q", got)
	}
	if got := Canonicalize("Paracetamol 500mg Strip"); got != "paracetamol-500mg" {
		t.Fatalf("packaging strip failed, got %q", got)
	}
	if got := Canonicalize("Oralit Sachet"); got != "oralit" {
		t.Fatalf("sachet strip failed, got %q", got)
	}
}

func TestDosageTokens(t *testing.T) {
	tokens := DosageTokens("Paracetamol 0500 MG", "drops 2.5ml")
	if _, ok := tokens["500mg"]; !ok {
		t.Fatalf("expected 500mg with leading zero stripped, got %v", tokens)
	}
	if _, ok := tokens["2.5ml"]; !ok {
		t.Fatalf("expected 2.5ml token, got %v", tokens)
	}
	if len(DosageTokens("no dosage here")) != 0 {
		t.Fatalf("expected empty token set")
	}
}

func TestResolveExactWithStrength(t *testing.T) {
	product, ok := Resolve(testCatalog(), Suggestion{Name: "Paracetamol", Strength: "500mg"})
	if !ok || product.ID != "p1" {
		t.Fatalf("expected paracetamol strip, got %+v ok=%v", product, ok)
	}
}

func TestResolveRejectsIncompatibleDosage(t *testing.T) {
	if product, ok := Resolve(testCatalog(), Suggestion{Name: "Ibuprofen", Strength: "999mg"}); ok {
		t.Fatalf("expected no match for unknown dosage, got %+v", product)
	}
}

func TestResolvePrefixPass(t *testing.T) {
	// "vitamin-c" is a hyphen-prefix of "vitamin-c-500mg".
	product, ok := Resolve(testCatalog(), Suggestion{Name: "Vitamin C"})
	if !ok || product.ID != "p4" {
		t.Fatalf("expected vitamin c via prefix pass, got %+v ok=%v", product, ok)
	}
}

func TestResolveAliasedBrand(t *testing.T) {
	product, ok := Resolve(testCatalog(), Suggestion{Name: "Panadol", Strength: "500 mg"})
	if !ok || product.ID != "p1" {
		t.Fatalf("expected brand alias to hit paracetamol, got %+v ok=%v", product, ok)
	}
}

func TestResolveScoredFallback(t *testing.T) {
	product, ok := Resolve(testCatalog(), Suggestion{Name: "OBH batuk sirup combi"})
	if !ok || product.ID != "p5" {
		t.Fatalf("expected token-overlap match on OBH Combi, got %+v ok=%v", product, ok)
	}
}

func TestResolveNoTokenOverlap(t *testing.T) {
	if product, ok := Resolve(testCatalog(), Suggestion{Name: "Loratadine"}); ok {
		t.Fatalf("expected miss for product outside catalog, got %+v", product)
	}
}

func TestResolveEmptySuggestion(t *testing.T) {
	if _, ok := Resolve(testCatalog(), Suggestion{}); ok {
		t.Fatalf("expected miss for empty suggestion")
	}
}

func TestResolveCodeBeatsName(t *testing.T) {
	catalog := testCatalog()
	product, ok := Resolve(catalog, Suggestion{Code: "ibuprofen-200mg", Name: "painkiller"})
	if !ok || product.ID != "p2" {
		t.Fatalf("expected code candidate to resolve, got %+v ok=%v", product, ok)
	}
}

func TestClientCachesFirstFetch(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/catalog/products" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[{"id":"p1","slug":"paracetamol-500mg-strip","name":"Paracetamol 500mg","price":"12000"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx := context.Background()
	first, err := client.Products(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("first fetch failed: %v (%d products)", err, len(first))
	}
	second, err := client.Products(ctx)
	if err != nil || len(second) != 1 {
		t.Fatalf("second fetch failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected catalog cached after first fetch, got %d calls", calls)
	}
}

func TestClientRetriesAfterFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"products":[]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Products(context.Background()); err == nil {
		t.Fatalf("expected first fetch to fail")
	}
	if _, err := client.Products(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
