package textrisk

import (
	"errors"
	"fmt"
	"regexp"

	"voice-risk-service/internal/models"
)

// Pattern is one weighted cue: a case-insensitive regular expression and the
// rationale label reported when it matches.
type Pattern struct {
	Expr  string
	Label string
	re    *regexp.Regexp
}

// NewPattern compiles expr case-insensitively.
func NewPattern(expr, label string) (Pattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return Pattern{Expr: expr, Label: label, re: re}, nil
}

func mustPattern(expr, label string) Pattern {
	p, err := NewPattern(expr, label)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the pattern occurs in text.
func (p Pattern) Matches(text string) bool {
	return p.re != nil && p.re.MatchString(text)
}

// LocaleTable holds the ordered base and high-severity patterns of a locale.
type LocaleTable struct {
	Base []Pattern
	High []Pattern
}

// Tables maps each locale to its pattern tables.
type Tables struct {
	byLocale map[models.Locale]LocaleTable
}

// NewTables builds a table set from an explicit mapping.
func NewTables(m map[models.Locale]LocaleTable) *Tables {
	t := &Tables{byLocale: make(map[models.Locale]LocaleTable, len(m))}
	for l, lt := range m {
		t.byLocale[l] = lt
	}
	return t
}

// For returns the table of locale, falling back to the default locale.
func (t *Tables) For(locale models.Locale) LocaleTable {
	if lt, ok := t.byLocale[locale]; ok {
		return lt
	}
	return t.byLocale[models.DefaultLocale]
}

// Validate checks that every supported locale has a non-empty base and
// high-severity table. All problems are reported together.
func (t *Tables) Validate() error {
	var errs []error
	for _, l := range models.SupportedLocales {
		lt, ok := t.byLocale[l]
		if !ok {
			errs = append(errs, fmt.Errorf("locale %s: no tables", l))
			continue
		}
		if len(lt.Base) == 0 {
			errs = append(errs, fmt.Errorf("locale %s: empty base table", l))
		}
		if len(lt.High) == 0 {
			errs = append(errs, fmt.Errorf("locale %s: empty high-severity table", l))
		}
		for _, p := range append(append([]Pattern{}, lt.Base...), lt.High...) {
			if p.re == nil {
				errs = append(errs, fmt.Errorf("locale %s: pattern %q not compiled", l, p.Expr))
			}
			if p.Label == "" {
				errs = append(errs, fmt.Errorf("locale %s: pattern %q has no label", l, p.Expr))
			}
		}
	}
	return errors.Join(errs...)
}

// Merge returns a copy of t where every non-empty tier in override replaces
// the corresponding tier of t.
func (t *Tables) Merge(override *Tables) *Tables {
	out := NewTables(t.byLocale)
	if override == nil {
		return out
	}
	for l, o := range override.byLocale {
		lt := out.byLocale[l]
		if len(o.Base) > 0 {
			lt.Base = o.Base
		}
		if len(o.High) > 0 {
			lt.High = o.High
		}
		out.byLocale[l] = lt
	}
	return out
}

var (
	numericCodeRe = regexp.MustCompile(`\b\d{4,8}\b`)
	moneyRe       = regexp.MustCompile(`(?i)(\$|€)\s?\d{2,}|\d+\s?(dollars|euros)`)
)

// DefaultTables returns the built-in en-US, es-ES and fr-FR tables.
func DefaultTables() *Tables {
	return NewTables(map[models.Locale]LocaleTable{
		models.LocaleEnUS: {
			Base: []Pattern{
				mustPattern(`one[-\s]?time\s?(password|code)|otp|verification\s?(code|sms|text)|security\s?code|passcode`, "requests OTP"),
				mustPattern(`pin\s?code|cvv|password|login\s?code`, "requests credentials"),
				mustPattern(`gift\s?card|wire\s?transfer|bank\s?transfer|bitcoin|crypto(\s?payment)?|western\s?union`, "payment request"),
				mustPattern(`urgent|immediately|act\s?now|limited\s?time|do\s?not\s?tell\s?anyone`, "pressure cue"),
				mustPattern(`bank\s?account|routing\s?number|account\s?number|ssn|social\s?security|driver'?s?\s?license`, "asks sensitive info"),
			},
			High: []Pattern{
				mustPattern(`(read|tell|share)\s?(me\s?)?(your\s?)?(otp|one[-\s]?time\s?(code|password)|verification\s?code)`, "explicit OTP request"),
				mustPattern(`(buy|purchase)\s?(a\s?)?gift\s?card`, "gift card purchase"),
				mustPattern(`(wire|bank)\s?transfer\s?now`, "urgent transfer"),
			},
		},
		models.LocaleEsES: {
			Base: []Pattern{
				mustPattern(`código\s?(único|de\s?verificación)|otp|contraseña\s?de\s?un\s?solo\s?uso|sms\s?de\s?verificación`, "solicita código"),
				mustPattern(`pin|cvv|contraseña|clave\s?de\s?acceso`, "solicita credenciales"),
				mustPattern(`tarjeta\s?de\s?regalo|transferencia|bitcoin|cripto(\s?pago)?`, "pago sospechoso"),
				mustPattern(`urgente|inmediatamente|actúe\s?ahora|no\s?se\s?lo\s?diga\s?a\s?nadie`, "presión"),
				mustPattern(`cuenta\s?bancaria|número\s?de\s?ruta|dni|seguridad\s?social`, "datos sensibles"),
			},
			High: []Pattern{
				mustPattern(`(dime|compárteme)\s?(tu\s?)?(código|otp)`, "solicitud explícita de código"),
				mustPattern(`(compre|compre\s?una)\s?tarjeta\s?de\s?regalo`, "compra de tarjeta regalo"),
				mustPattern(`transferencia\s?bancaria\s?ahora`, "transferencia urgente"),
			},
		},
		models.LocaleFrFR: {
			Base: []Pattern{
				mustPattern(`code\s?(unique|de\s?vérification)|otp|mot\s?de\s?passe\s?unique|sms\s?de\s?vérification`, "demande de code"),
				mustPattern(`code\s?pin|cvv|mot\s?de\s?passe|code\s?d'accès`, "demande d'identifiants"),
				mustPattern(`carte\s?cadeau|virement|bitcoin|crypto(\s?paiement)?`, "paiement suspect"),
				mustPattern(`urgent|immédiatement|agissez\s?maintenant|n'en\s?parlez\s?à\s?personne`, "pression"),
				mustPattern(`compte\s?bancaire|rib|numéro\s?de\s?sécurité\s?sociale|permis\s?de\s?conduire`, "infos sensibles"),
			},
			High: []Pattern{
				mustPattern(`(dis|partage)\s?(moi\s?)?(ton\s?)?(code|otp)`, "demande explicite de code"),
				mustPattern(`(achète|acheter)\s?une\s?carte\s?cadeau`, "achat carte cadeau"),
				mustPattern(`virement\s?immédiat`, "virement urgent"),
			},
		},
	})
}
