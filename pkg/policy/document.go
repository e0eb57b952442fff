package policy

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.json
var defaultDocument []byte

// Format identifies the serialisation of a parameter document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from a file extension; JSON is the default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is the wire shape of the cooperative's withdrawal parameters, as
// stored by the configuration collaborator. Amounts are in main currency units.
type Document struct {
	MinBalanceFC              float64 `json:"solde_min_fc" yaml:"solde_min_fc"`
	MinBalanceUSD             float64 `json:"solde_min_usd" yaml:"solde_min_usd"`
	MinWithdrawalFC           float64 `json:"montant_min_retrait_fc" yaml:"montant_min_retrait_fc"`
	MinWithdrawalUSD          float64 `json:"montant_min_retrait_usd" yaml:"montant_min_retrait_usd"`
	DailyAmountLimitFC        float64 `json:"limite_retrait_jour_fc" yaml:"limite_retrait_jour_fc"`
	DailyAmountLimitUSD       float64 `json:"limite_retrait_jour_usd" yaml:"limite_retrait_jour_usd"`
	MaxWithdrawalsPerDay      int     `json:"max_retraits_par_jour" yaml:"max_retraits_par_jour"`
	MaxAmountPerWithdrawalFC  float64 `json:"montant_max_par_retrait_fc" yaml:"montant_max_par_retrait_fc"`
	MaxAmountPerWithdrawalUSD float64 `json:"montant_max_par_retrait_usd" yaml:"montant_max_par_retrait_usd"`
	USDToFCRate               float64 `json:"taux_usd_cdf" yaml:"taux_usd_cdf"`
	AllowedHours              Hours   `json:"heures_autorisees" yaml:"heures_autorisees"`
	ReasonRequired            bool    `json:"motif_obligatoire" yaml:"motif_obligatoire"`
	Withdrawals               struct {
		Fees FeeTable `json:"frais_retrait" yaml:"frais_retrait"`
	} `json:"retraits" yaml:"retraits"`
}

// Hours is the allowed operating window as "HH:MM" strings.
type Hours struct {
	Start string `json:"debut" yaml:"debut"`
	End   string `json:"fin" yaml:"fin"`
}

// FeeTable holds the per-currency tier lists, ascending by max.
type FeeTable struct {
	FC  []TierDocument `json:"FC" yaml:"FC"`
	USD []TierDocument `json:"USD" yaml:"USD"`
}

// TierDocument is one (max, rate) bracket.
type TierDocument struct {
	Max  float64 `json:"max" yaml:"max"`
	Rate float64 `json:"taux" yaml:"taux"`
}

// ParseDocument decodes a parameter document.
func ParseDocument(data []byte, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Document{}, fmt.Errorf("%w: parse yaml document: %v", ErrConfiguration, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("%w: parse json document: %v", ErrConfiguration, err)
		}
	}
	return doc, nil
}

// DefaultDocument returns the embedded default parameters.
func DefaultDocument() Document {
	doc, err := ParseDocument(defaultDocument, FormatJSON)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded defaults are invalid: %v", err))
	}
	return doc
}

// Hash returns a stable content hash used to detect unchanged reloads.
func (d Document) Hash() string {
	data, _ := json.Marshal(d)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
