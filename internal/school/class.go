// Package school defines the canonical school point and the normalizer that
// maps heterogeneous inspection records onto it.
package school

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Class is the criticality class of a school.
type Class string

// Criticality classes.
const (
	ClassCritical  Class = "critical"
	ClassAttention Class = "attention"
	ClassAlert     Class = "alert"
	ClassAdequate  Class = "adequate"
	ClassUnrated   Class = "unrated"
)

// Classes lists every class from most to least severe.
var Classes = []Class{ClassCritical, ClassAttention, ClassAlert, ClassAdequate, ClassUnrated}

// Valid reports whether c is one of the fixed classes.
func (c Class) Valid() bool {
	switch c {
	case ClassCritical, ClassAttention, ClassAlert, ClassAdequate, ClassUnrated:
		return true
	}
	return false
}

// ParseClass accepts a canonical class name or any known synonym.
func ParseClass(s string) (Class, error) {
	c, ok := defaultSynonyms[ClassKey(s)]
	if !ok {
		return "", eris.Errorf("school: unknown class %q", s)
	}
	return c, nil
}

// defaultSynonyms maps folded status strings to classes. Keys are stored in
// ClassKey form.
var defaultSynonyms = buildSynonyms(map[Class][]string{
	ClassCritical: {
		"critical", "critico", "critica", "estado critico", "urgente", "urgent",
		"grave", "severe", "severo", "interditada", "interditado",
	},
	ClassAttention: {
		"attention", "atencao", "requer atencao", "needs attention",
		"moderado", "moderate", "preocupante",
	},
	ClassAlert: {
		"alert", "alerta", "warning", "aviso", "leve", "minor", "observacao",
	},
	ClassAdequate: {
		"adequate", "adequado", "adequada", "ok", "bom", "boa", "good",
		"normal", "satisfatorio", "regular",
	},
	ClassUnrated: {
		"unrated", "sem avaliacao", "nao avaliado", "nao avaliada",
		"pendente", "pending", "unknown", "desconhecido",
	},
})

func buildSynonyms(table map[Class][]string) map[string]Class {
	out := make(map[string]Class)
	for class, words := range table {
		for _, w := range words {
			out[ClassKey(w)] = class
		}
	}
	return out
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ClassKey folds a raw status string for synonym lookup: accents stripped,
// lowercased, separators collapsed to single spaces.
func ClassKey(s string) string {
	folded, _, err := transform.String(accentStripper, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// LoadSynonyms reads a YAML file mapping class names to lists of extra
// synonyms, e.g.
//
//	critical: [perigo, risco alto]
//	adequate: [excelente]
func LoadSynonyms(path string) (map[string]Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "school: read synonyms %s", path)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "school: parse synonyms %s", path)
	}
	table := make(map[Class][]string, len(raw))
	for name, words := range raw {
		class := Class(ClassKey(name))
		if !class.Valid() {
			return nil, eris.Errorf("school: synonyms file names unknown class %q", name)
		}
		table[class] = words
	}
	return buildSynonyms(table), nil
}
