package model

type SponsorStatus string

const (
	SponsorProspect  SponsorStatus = "prospect"
	SponsorContacted SponsorStatus = "contacted"
	SponsorConfirmed SponsorStatus = "confirmed"
	SponsorDeclined  SponsorStatus = "declined"
)

func (s SponsorStatus) Valid() bool {
	switch s {
	case SponsorProspect, SponsorContacted, SponsorConfirmed, SponsorDeclined:
		return true
	}
	return false
}

type Sponsor struct {
	ID              string        `json:"id"`
	EventID         string        `json:"event_id"`
	Name            string        `json:"name"`
	Tier            string        `json:"tier"`
	Status          SponsorStatus `json:"status"`
	CommittedAmount float64       `json:"committed_amount"`
	ReceivedAmount  float64       `json:"received_amount"`
	ContactEmail    string        `json:"contact_email,omitempty"`
	CreatedAt       Timestamp     `json:"created_at"`
}

func (s Sponsor) Key() string { return s.ID }

type SponsorView struct {
	Sponsor
	Outstanding float64 `json:"outstanding"`
	Fulfillment int     `json:"fulfillment"`
}

func (v SponsorView) Key() string { return v.ID }

func NewSponsorView(s Sponsor) SponsorView {
	v := SponsorView{Sponsor: s, Outstanding: s.CommittedAmount - s.ReceivedAmount}
	if v.Outstanding < 0 {
		v.Outstanding = 0
	}
	if s.CommittedAmount > 0 {
		v.Fulfillment = int(s.ReceivedAmount/s.CommittedAmount*100 + 0.5)
		if v.Fulfillment > 100 {
			v.Fulfillment = 100
		}
	}
	return v
}
