package models

import "time"

// Portfolio is a student's ePortfolio.
type Portfolio struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PortfolioEntry is one page of a portfolio. FullSlug is unique per portfolio.
type PortfolioEntry struct {
	ID          string `db:"id" json:"id"`
	PortfolioID string `db:"portfolio_id" json:"portfolioId"`
	Name        string `db:"name" json:"name"`
	FullSlug    string `db:"full_slug" json:"fullSlug"`
	Content     string `db:"content" json:"content"`
	Position    int    `db:"position" json:"position"`
}
