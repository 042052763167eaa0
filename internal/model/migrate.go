package model

// All lists every table owned or read by the messaging service, in migration order.
func All() []any {
	return []any{
		&User{},
		&Listing{},
		&ListingImage{},
		&Conversation{},
		&Message{},
	}
}
