package customer

// Customer links a website owner to their Stripe customer
type Customer struct {
	ID     string `json:"id" gorm:"primaryKey"` // Corresponds to Stripe's customer ID
	UserID string `json:"userId" gorm:"index"`  // Owner identity from the auth provider
	Email  string `json:"email"`                // Billing email address
}
