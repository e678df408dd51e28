package website

import "time"

// Website is a site built from a template and owned by one user
type Website struct {
	ID                     string     `json:"id" gorm:"primaryKey"`            // UUID v4
	UserID                 string     `json:"userId" gorm:"index;not null"`    // Owner identity from the auth provider
	TemplateID             string     `json:"templateId"`                      // Template the content was seeded from
	Name                   string     `json:"name"`                            // Display name
	Content                string     `json:"content"`                         // Page content edited by the builder
	CustomDomain           *string    `json:"customDomain" gorm:"uniqueIndex"` // Lower-case FQDN, unique across all websites
	IsCustomDomainVerified bool       `json:"isCustomDomainVerified" gorm:"not null;default:false"`
	DomainVerifiedAt       *time.Time `json:"domainVerifiedAt"`
	IsPublished            bool       `json:"isPublished" gorm:"not null;default:false"`
	PublishedAt            *time.Time `json:"publishedAt"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`

	action Action // recorded in History when the update is saved
}

// HasVerifiedDomain reports whether the website is reachable on its custom domain
func (w *Website) HasVerifiedDomain() bool {
	return w.CustomDomain != nil && w.IsCustomDomainVerified
}
