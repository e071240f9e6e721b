package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Product is the strict product contract used throughout the engine.
// Instances are produced by Normalize and are read-only.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	Tags        []string `json:"tags"`
}

// RawProduct is the loosely typed shape accepted from catalog adapters.
// Numeric fields may arrive as numbers or strings, tags as a list or a
// comma separated string.
type RawProduct struct {
	ID          any    `json:"id" yaml:"id" toml:"id"`
	Name        string `json:"name" yaml:"name" toml:"name"`
	Description string `json:"description" yaml:"description" toml:"description"`
	Category    string `json:"category" yaml:"category" toml:"category"`
	Price       any    `json:"price" yaml:"price" toml:"price"`
	Rating      any    `json:"rating" yaml:"rating" toml:"rating"`
	Tags        any    `json:"tags" yaml:"tags" toml:"tags"`
}

// RawID returns the identifier as a string, or "" when absent.
func (r RawProduct) RawID() string {
	if r.ID == nil {
		return ""
	}
	switch v := r.ID.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Normalize converts a raw record into a Product, rejecting records that
// violate the contract with ErrInvalidProduct.
func Normalize(raw RawProduct) (Product, error) {
	p := Product{
		ID:          raw.RawID(),
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
		Category:    strings.TrimSpace(raw.Category),
	}
	if p.ID == "" {
		return Product{}, fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}
	if p.Name == "" {
		return Product{}, fmt.Errorf("%w: product %s: name is required", ErrInvalidProduct, p.ID)
	}
	if p.Category == "" {
		return Product{}, fmt.Errorf("%w: product %s: category is required", ErrInvalidProduct, p.ID)
	}

	if raw.Price == nil {
		return Product{}, fmt.Errorf("%w: product %s: price is required", ErrInvalidProduct, p.ID)
	}
	price, err := toFloat(raw.Price)
	if err != nil {
		return Product{}, fmt.Errorf("%w: product %s: price: %v", ErrInvalidProduct, p.ID, err)
	}
	if price < 0 {
		return Product{}, fmt.Errorf("%w: product %s: price must be >= 0", ErrInvalidProduct, p.ID)
	}
	p.Price = price

	if raw.Rating != nil {
		rating, err := toFloat(raw.Rating)
		if err != nil {
			return Product{}, fmt.Errorf("%w: product %s: rating: %v", ErrInvalidProduct, p.ID, err)
		}
		if rating < 0 {
			return Product{}, fmt.Errorf("%w: product %s: rating must be >= 0", ErrInvalidProduct, p.ID)
		}
		p.Rating = rating
	}

	tags, err := toTags(raw.Tags)
	if err != nil {
		return Product{}, fmt.Errorf("%w: product %s: tags: %v", ErrInvalidProduct, p.ID, err)
	}
	p.Tags = tags

	return p, nil
}

// Fingerprint hashes the fields that influence similarity. Price and rating
// are excluded: they only travel as vector metadata.
func (p Product) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{p.Name, p.Description, p.Category, strings.Join(p.Tags, "\x1e")} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EmbeddingText renders the text submitted to the embedding provider.
func (p Product) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString(". Category: ")
	b.WriteString(p.Category)
	b.WriteString(".")
	if p.Description != "" {
		b.WriteString(" ")
		b.WriteString(p.Description)
	}
	if len(p.Tags) > 0 {
		b.WriteString(" Tags: ")
		b.WriteString(strings.Join(p.Tags, ", "))
		b.WriteString(".")
	}
	return b.String()
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	case []byte:
		return toFloat(string(n))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func toTags(v any) ([]string, error) {
	var raw []string
	switch t := v.(type) {
	case nil:
	case string:
		raw = strings.Split(t, ",")
	case []byte:
		raw = strings.Split(string(t), ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("tag %v is %T, want string", item, item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	return NormalizeTags(raw), nil
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
