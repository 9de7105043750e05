// Package model defines the entity types shared by the Hearth client packages.
package model

import "time"

// UserRole identifies the role a user holds on the platform.
type UserRole string

const (
	RoleUser            UserRole = "USER"
	RoleServiceProvider UserRole = "SERVICE_PROVIDER"
	RoleModerator       UserRole = "MODERATOR"
	RoleAdmin           UserRole = "ADMIN"
)

// PostType classifies a feed post.
type PostType string

const (
	PostIssue        PostType = "ISSUE"
	PostAnnouncement PostType = "ANNOUNCEMENT"
	PostAlert        PostType = "ALERT"
	PostGeneral      PostType = "GENERAL"
	PostEmergency    PostType = "EMERGENCY"
)

// BookingStatus is the lifecycle state of a service booking.
type BookingStatus string

const (
	BookingRequested  BookingStatus = "REQUESTED"
	BookingAccepted   BookingStatus = "ACCEPTED"
	BookingInProgress BookingStatus = "IN_PROGRESS"
	BookingCompleted  BookingStatus = "COMPLETED"
	BookingCancelled  BookingStatus = "CANCELLED"
)

// ListingStatus is the lifecycle state of a marketplace listing.
type ListingStatus string

const (
	ListingActive  ListingStatus = "ACTIVE"
	ListingSold    ListingStatus = "SOLD"
	ListingExpired ListingStatus = "EXPIRED"
)

// ReportReason is the reason attached to a content report.
type ReportReason string

const (
	ReportSpam           ReportReason = "SPAM"
	ReportHarassment     ReportReason = "HARASSMENT"
	ReportInappropriate  ReportReason = "INAPPROPRIATE"
	ReportMisinformation ReportReason = "MISINFORMATION"
	ReportOther          ReportReason = "OTHER"
)

// Location is a point with an optional human-readable address.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// User is a platform account.
type User struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Role         UserRole  `json:"role"`
	Location     *Location `json:"location,omitempty"`
	IsVerified   bool      `json:"isVerified"`
	IsBanned     bool      `json:"isBanned"`
	ShadowBanned bool      `json:"shadowBanned"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Post is a feed post. Key identifies it inside a collection.
type Post struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"authorId"`
	Author        User      `json:"author"`
	Type          PostType  `json:"type"`
	Title         string    `json:"title,omitempty"`
	Content       string    `json:"content"`
	Images        []string  `json:"images,omitempty"`
	Location      Location  `json:"location"`
	Radius        int       `json:"radius"`
	LikesCount    int       `json:"likesCount"`
	CommentsCount int       `json:"commentsCount"`
	IsLiked       bool      `json:"isLiked"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (p Post) Key() string { return p.ID }

// Comment is a comment on a feed post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatRoom is a conversation between participants.
type ChatRoom struct {
	ID           string       `json:"id"`
	Participants []User       `json:"participants"`
	LastMessage  *ChatMessage `json:"lastMessage,omitempty"`
	UnreadCount  int          `json:"unreadCount"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (r ChatRoom) Key() string { return r.ID }

// ChatMessage is a single message within a room.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m ChatMessage) Key() string { return m.ID }

// TypingIndicator reports typing state for a user in a room.
type TypingIndicator struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Listing is a marketplace listing.
type Listing struct {
	ID          string        `json:"id"`
	SellerID    string        `json:"sellerId"`
	Seller      User          `json:"seller"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Price       float64       `json:"price"`
	Images      []string      `json:"images,omitempty"`
	Category    string        `json:"category,omitempty"`
	Location    Location      `json:"location"`
	Radius      int           `json:"radius"`
	Status      ListingStatus `json:"status"`
	ViewsCount  int           `json:"viewsCount"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (l Listing) Key() string { return l.ID }

// NotificationType classifies a notification.
type NotificationType string

const (
	NotifyPostLike      NotificationType = "POST_LIKE"
	NotifyPostComment   NotificationType = "POST_COMMENT"
	NotifyBookingUpdate NotificationType = "BOOKING_UPDATE"
	NotifyChatMessage   NotificationType = "CHAT_MESSAGE"
	NotifyEmergency     NotificationType = "EMERGENCY_ALERT"
	NotifySystem        NotificationType = "SYSTEM"
)

// Notification is an in-app notification.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (n Notification) Key() string { return n.ID }

// ServiceCategory groups service offers.
type ServiceCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// ServiceOffer is a bookable service published by a provider.
type ServiceOffer struct {
	ID          string          `json:"id"`
	ProviderID  string          `json:"providerId"`
	Provider    User            `json:"provider"`
	CategoryID  string          `json:"categoryId"`
	Category    ServiceCategory `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Images      []string        `json:"images,omitempty"`
	Price       float64         `json:"price"`
	PriceUnit   string          `json:"priceUnit"`
	Location    Location        `json:"location"`
	Radius      int             `json:"radius"`
	Rating      float64         `json:"rating"`
	ReviewCount int             `json:"reviewCount"`
	IsAvailable bool            `json:"isAvailable"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (s ServiceOffer) Key() string { return s.ID }

// Booking is a scheduled service booking.
type Booking struct {
	ID          string        `json:"id"`
	ServiceID   string        `json:"serviceId"`
	Service     ServiceOffer  `json:"service"`
	UserID      string        `json:"userId"`
	User        User          `json:"user"`
	ProviderID  string        `json:"providerId"`
	Provider    User          `json:"provider"`
	Status      BookingStatus `json:"status"`
	ScheduledAt time.Time     `json:"scheduledAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Price       float64       `json:"price"`
	Notes       string        `json:"notes,omitempty"`
	Review      *Review       `json:"review,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (b Booking) Key() string { return b.ID }

// Review is feedback left on a completed booking.
type Review struct {
	ID        string    `json:"id"`
	BookingID string    `json:"bookingId"`
	UserID    string    `json:"userId"`
	User      User      `json:"user"`
	ServiceID string    `json:"serviceId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PageInfo is the pagination block of a paginated API response.
type PageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
