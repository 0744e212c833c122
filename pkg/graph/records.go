package graph

import (
	"time"
)

// Customer is one row of the customer batch.
type Customer struct {
	ID           CustomerID `json:"id" validate:"required"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	TotalSpent   float64    `json:"total_spent" validate:"gte=0"`
	TotalOrders  int        `json:"total_orders" validate:"gte=0"`
	Region       string     `json:"region,omitempty"`
}

// Product is one row of the product batch.
type Product struct {
	ID       ProductID `json:"id" validate:"required"`
	Name     string    `json:"name,omitempty"`
	Category string    `json:"category" validate:"required"`
	Price    float64   `json:"price" validate:"gte=0"`
	Stock    int       `json:"stock" validate:"gte=0"`
	Rating   float64   `json:"rating" validate:"gte=0,lte=5"`
}

// Transaction is one row of the transaction batch. Each transaction becomes
// exactly one PURCHASED edge keyed by its ID.
type Transaction struct {
	ID         string     `json:"id" validate:"required"`
	CustomerID CustomerID `json:"customer_id" validate:"required"`
	ProductID  ProductID  `json:"product_id" validate:"required"`
	Quantity   int        `json:"quantity" validate:"gte=0"`
	Amount     float64    `json:"amount" validate:"gte=0"`
	Timestamp  time.Time  `json:"timestamp" validate:"required"`
	Status     string     `json:"status,omitempty"`
}

// Batches are the three inputs of a build.
type Batches struct {
	Customers    []Customer
	Products     []Product
	Transactions []Transaction
}
