/**
 * @description
 * Workflow catalogue and lead capture models.
 */
package domain

import "time"

// Workflow is one downloadable automation-workflow JSON file.
type Workflow struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category,omitempty"`
	Tags          []string  `json:"tags"`
	FileKey       string    `json:"-"`
	NodeCount     int       `json:"node_count"`
	DownloadCount int       `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// WorkflowQuery filters and pages the catalogue.
type WorkflowQuery struct {
	Search   string
	Tags     []string
	Category string
	Sort     string
	Page     int
	PageSize int
}

// WorkflowPage is one page of catalogue results.
type WorkflowPage struct {
	Items      []Workflow `json:"items"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// Lead is a contact-form submission.
type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
