package domain

import "encoding/json"

// Signature is a captured slot.
type Signature struct {
	Image string `json:"img"`
	Date  string `json:"date"`
}

// Signatures maps role ids to captured slots. A role without an entry is
// empty; there is no cleared-but-present state.
type Signatures map[string]Signature

// Slot returns the captured signature of role, if any.
func (s Signatures) Slot(role string) (Signature, bool) {
	sig, ok := s[role]
	return sig, ok
}

func (s Signatures) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Signature(s))
}

// UnmarshalJSON drops null entries and entries without an image.
func (s *Signatures) UnmarshalJSON(data []byte) error {
	var raw map[string]*Signature
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Signatures, len(raw))
	for role, sig := range raw {
		if sig == nil || sig.Image == "" {
			continue
		}
		out[role] = *sig
	}
	*s = out
	return nil
}
