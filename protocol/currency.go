package protocol

import "encoding/json"

// Currency describes a currency a receiver can quote (LUD-21).
type Currency struct {
	// Code is the currency code, e.g. "USD" or "SAT".
	Code string

	// Name is the display name of the currency.
	Name string

	// Symbol is the display symbol of the currency.
	Symbol string

	// MillisatoshiPerUnit is the number of msats in one smallest unit of
	// the currency.
	MillisatoshiPerUnit float64

	// MinSendable and MaxSendable bound a single payment, in the smallest
	// unit of the currency.
	MinSendable int64
	MaxSendable int64

	// Decimals is the number of display decimals of the smallest unit.
	Decimals int

	// UmaMajorVersion selects the JSON shape. It is not serialized.
	UmaMajorVersion int
}

type convertibleCurrency struct {
	MinSendable int64 `json:"min"`
	MaxSendable int64 `json:"max"`
}

type v0Currency struct {
	Code                string  `json:"code"`
	Name                string  `json:"name"`
	Symbol              string  `json:"symbol"`
	MillisatoshiPerUnit float64 `json:"multiplier"`
	MinSendable         int64   `json:"minSendable"`
	MaxSendable         int64   `json:"maxSendable"`
	Decimals            int     `json:"decimals"`
}

type v1Currency struct {
	Code                string              `json:"code"`
	Name                string              `json:"name"`
	Symbol              string              `json:"symbol"`
	MillisatoshiPerUnit float64             `json:"multiplier"`
	Convertible         convertibleCurrency `json:"convertible"`
	Decimals            int                 `json:"decimals"`
}

// MarshalJSON writes the v0 shape (flat bounds) for major version 0 and the
// v1 shape (nested "convertible") otherwise.
func (c Currency) MarshalJSON() ([]byte, error) {
	if c.UmaMajorVersion == 0 {
		return json.Marshal(&v0Currency{
			Code:                c.Code,
			Name:                c.Name,
			Symbol:              c.Symbol,
			MillisatoshiPerUnit: c.MillisatoshiPerUnit,
			MinSendable:         c.MinSendable,
			MaxSendable:         c.MaxSendable,
			Decimals:            c.Decimals,
		})
	}

	return json.Marshal(&v1Currency{
		Code:                c.Code,
		Name:                c.Name,
		Symbol:              c.Symbol,
		MillisatoshiPerUnit: c.MillisatoshiPerUnit,
		Convertible: convertibleCurrency{
			MinSendable: c.MinSendable,
			MaxSendable: c.MaxSendable,
		},
		Decimals: c.Decimals,
	})
}

// UnmarshalJSON accepts either shape.
func (c *Currency) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if _, ok := raw["minSendable"]; ok {
		var v0 v0Currency
		if err := json.Unmarshal(data, &v0); err != nil {
			return err
		}
		*c = Currency{
			Code:                v0.Code,
			Name:                v0.Name,
			Symbol:              v0.Symbol,
			MillisatoshiPerUnit: v0.MillisatoshiPerUnit,
			MinSendable:         v0.MinSendable,
			MaxSendable:         v0.MaxSendable,
			Decimals:            v0.Decimals,
			UmaMajorVersion:     0,
		}
		return nil
	}

	var v1 v1Currency
	if err := json.Unmarshal(data, &v1); err != nil {
		return err
	}
	*c = Currency{
		Code:                v1.Code,
		Name:                v1.Name,
		Symbol:              v1.Symbol,
		MillisatoshiPerUnit: v1.MillisatoshiPerUnit,
		MinSendable:         v1.Convertible.MinSendable,
		MaxSendable:         v1.Convertible.MaxSendable,
		Decimals:            v1.Decimals,
		UmaMajorVersion:     1,
	}

	return nil
}

// SatsCurrency is the satoshi settlement currency.
var SatsCurrency = Currency{
	Code:                "SAT",
	Name:                "Satoshis",
	Symbol:              "",
	MillisatoshiPerUnit: 1000,
	MinSendable:         1,
	MaxSendable:         10_000_000,
	Decimals:            0,
	UmaMajorVersion:     MajorVersion,
}
