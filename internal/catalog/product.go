package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Product is a purchasable over-the-counter catalog entry. The catalog service
// owns these; this package only reads them.
type Product struct {
	ID                string          `json:"id"`
	Slug              string          `json:"slug"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Contraindications []string        `json:"contraindications,omitempty"`
}

// IndexedProduct carries the pre-computed canonical forms the resolver matches
// against. Build once per session via Index.
type IndexedProduct struct {
	Product
	CanonicalSlug string
	CanonicalName string
	DosageTokens  map[string]struct{}
}

// Suggestion is an AI-proposed medication in free text. None of the fields are
// reliable; everything must be resolved against the catalog before purchase.
type Suggestion struct {
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Strength string `json:"strength,omitempty"`
}

// Index canonicalizes a catalog snapshot for matching.
func Index(products []Product) []IndexedProduct {
	indexed := make([]IndexedProduct, 0, len(products))
	for _, p := range products {
		indexed = append(indexed, IndexedProduct{
			Product:       p,
			CanonicalSlug: Canonicalize(p.Slug),
			CanonicalName: Canonicalize(p.Name),
			DosageTokens:  DosageTokens(p.Slug, p.Name),
		})
	}
	return indexed
}

// aliasTable maps known synonyms and brand names to the catalog's preferred
// slugs. Applied after slugification, before packaging suffixes are stripped.
var aliasTable = map[string]string{
	"acetaminophen-500mg": "paracetamol-500mg-strip",
	"acetaminophen":       "paracetamol",
	"panadol":             "paracetamol",
	"tylenol":             "paracetamol",
	"sanmol":              "paracetamol",
	"bodrex":              "paracetamol",
	"advil":               "ibuprofen",
	"proris":              "ibuprofen",
	"ctm":                 "chlorpheniramine-maleate",
	"piriton":             "chlorpheniramine-maleate",
	"amoxicilin":          "amoxicillin",
	"ors":                 "oralit",
	"ors-sachet":          "oralit",
	"obh":                 "obh-combi",
	"vit-c":               "vitamin-c",
	"ascorbic-acid":       "vitamin-c",
}

// packagingSuffixes are dropped from the end of a slug to reach the canonical
// form; "paracetamol-500mg-strip" and "paracetamol 500mg tablet" both resolve
// to "paracetamol-500mg".
var packagingSuffixes = []string{
	"strip", "strips", "tablet", "tablets", "tab", "tabs", "kaplet", "caplet",
	"capsule", "capsules", "kapsul", "bottle", "botol", "syrup", "sirup",
	"suspension", "drops", "tetes", "cream", "krim", "gel", "ointment",
	"salep", "sachet", "saset", "box", "pack",
}

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases, strips diacritics, folds every non-alphanumeric run to a
// single hyphen, and trims leading/trailing hyphens.
func Slugify(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return ""
	}
	if stripped, _, err := transform.String(diacriticStripper, lowered); err == nil {
		lowered = stripped
	}
	var b strings.Builder
	b.Grow(len(lowered))
	lastHyphen := true
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// Canonicalize produces the comparable form of a product or suggestion string:
// slug, then alias replacement, then packaging suffixes removed.
func Canonicalize(raw string) string {
	slug := Slugify(raw)
	if slug == "" {
		return ""
	}
	if alias, ok := aliasTable[slug]; ok {
		slug = alias
	}
	return stripPackaging(slug)
}

func stripPackaging(slug string) string {
	parts := strings.Split(slug, "-")
	for len(parts) > 1 {
		last := parts[len(parts)-1]
		if !isPackagingSuffix(last) {
			break
		}
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "-")
}

func isPackagingSuffix(token string) bool {
	for _, s := range packagingSuffixes {
		if token == s {
			return true
		}
	}
	return false
}

var dosageRE = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(mg|mcg|g|ml|iu)\b`)

// DosageTokens scans the given strings for <number><unit> dosage markers and
// returns the normalized token set, e.g. "500mg". An empty set means the
// source carried no dosage constraint.
func DosageTokens(raws ...string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, raw := range raws {
		for _, m := range dosageRE.FindAllStringSubmatch(raw, -1) {
			amount := normalizeAmount(m[1])
			if amount == "" {
				continue
			}
			tokens[amount+strings.ToLower(m[2])] = struct{}{}
		}
	}
	return tokens
}

func normalizeAmount(raw string) string {
	amount := strings.ReplaceAll(raw, ",", ".")
	amount = strings.TrimLeft(amount, "0")
	if amount == "" {
		return "0"
	}
	if amount[0] == '.' {
		amount = "0" + amount
	}
	return amount
}
