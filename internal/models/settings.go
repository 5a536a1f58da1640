package models

// Language is a supported interface language.
type Language string

const (
	LanguageRU Language = "ru"
	LanguageEN Language = "en"
)

// Page is the screen the client currently shows.
type Page string

const (
	PageFeed     Page = "feed"
	PageProfile  Page = "profile"
	PageSettings Page = "settings"
)

// Valid reports whether p names a known page.
func (p Page) Valid() bool {
	switch p {
	case PageFeed, PageProfile, PageSettings:
		return true
	}
	return false
}

// AppSettings is the process-local preference bag. It is never sent to the backend.
type AppSettings struct {
	Notifications  bool     `json:"notifications"`
	Language       Language `json:"language"`
	PrivateProfile bool     `json:"private_profile"`
	ShowOnline     bool     `json:"show_online"`
}

// DefaultSettings returns the settings a fresh client starts with.
func DefaultSettings() AppSettings {
	return AppSettings{
		Notifications:  true,
		Language:       LanguageRU,
		PrivateProfile: false,
		ShowOnline:     true,
	}
}

// SettingsUpdate is a sparse settings patch; nil fields are left unchanged.
type SettingsUpdate struct {
	Notifications  *bool     `json:"notifications,omitempty"`
	Language       *Language `json:"language,omitempty"`
	PrivateProfile *bool     `json:"private_profile,omitempty"`
	ShowOnline     *bool     `json:"show_online,omitempty"`
}

// Apply merges the patch into s. Unknown languages are ignored.
func (u SettingsUpdate) Apply(s AppSettings) AppSettings {
	if u.Notifications != nil {
		s.Notifications = *u.Notifications
	}
	if u.Language != nil && (*u.Language == LanguageRU || *u.Language == LanguageEN) {
		s.Language = *u.Language
	}
	if u.PrivateProfile != nil {
		s.PrivateProfile = *u.PrivateProfile
	}
	if u.ShowOnline != nil {
		s.ShowOnline = *u.ShowOnline
	}
	return s
}

// ProfileUpdate is a sparse profile patch; nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Username    *string `json:"username,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}
