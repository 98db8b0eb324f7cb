package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TradeRecord is one matched trade as produced by the matching engine. All
// numeric and byte fields are carried as text so that wide integers survive
// the JSON boundary untouched; OrderCodec performs all validation.
type TradeRecord struct {
	MakerToken   string `json:"makerToken"`
	TakerToken   string `json:"takerToken"`
	MakerAmount  Text   `json:"makerAmount"`
	TakerAmount  Text   `json:"takerAmount"`
	Maker        string `json:"maker"`
	Taker        string `json:"taker"`
	Sender       string `json:"sender"`
	FeeRecipient string `json:"feeRecipient"`
	Pool         string `json:"pool"`
	Expiration   Text   `json:"expiration"`
	Salt         Text   `json:"salt"`
	MakerIsBuyer bool   `json:"makerIsBuyer"`

	MakerV Text   `json:"maker_v"`
	MakerR string `json:"maker_r"`
	MakerS string `json:"maker_s"`
	TakerV Text   `json:"taker_v"`
	TakerR string `json:"taker_r"`
	TakerS string `json:"taker_s"`
}

// Text is a scalar that may arrive as a JSON string or a bare JSON number.
// Numbers are kept verbatim so no precision is lost to float64.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("domain: expected string or number, got %s", data)
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string {
	return string(t)
}
