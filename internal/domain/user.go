package domain

type User struct {
	ID             int32  `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	CreatedAtStamp int64  `json:"created_at_stamp"`
	UpdatedAtStamp int64  `json:"updated_at_stamp"`
}
