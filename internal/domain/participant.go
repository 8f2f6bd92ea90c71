package domain

// BuyerAttributes are the non-price inputs to scoring and haggling.
type BuyerAttributes struct {
	ParticipantID    string
	CharismaModifier int
	Profession       string
}

// Balance is a participant's gold split into spendable and escrowed funds.
type Balance struct {
	ParticipantID string
	AvailableGold int64
	EscrowedGold  int64
}

// Holding is a stack of one item kind owned by a participant.
type Holding struct {
	OwnerID  string
	ItemRef  string
	Quantity int64
}
