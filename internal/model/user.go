package model

// Profile is the identity reported by LINE for the logged-in user.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// UserData is the backend's quota and usage snapshot for a LINE user.
// OCRRemaining is computed by the server and never recomputed here.
type UserData struct {
	LINEUserID      string    `json:"line_user_id"`
	DisplayName     *string   `json:"display_name"`
	OCRCountSession int       `json:"ocr_count_session"`
	OCRLimit        int       `json:"ocr_limit"`
	OCRRemaining    int       `json:"ocr_remaining"`
	OCRCountTotal   int       `json:"ocr_count_total"`
	MessageCount    int       `json:"message_count"`
	FirstSeenAt     Timestamp `json:"first_seen_at"`
	LastSeenAt      Timestamp `json:"last_seen_at"`
}

// UserNotFound is returned by the backend when the LINE user has never
// talked to the bot.
type UserNotFound struct {
	Message     string  `json:"message"`
	LINEUserID  string  `json:"line_user_id"`
	DisplayName *string `json:"display_name"`
}

type DisplayNameUpdate struct {
	Success     bool   `json:"success"`
	DisplayName string `json:"display_name"`
	Message     string `json:"message"`
}
