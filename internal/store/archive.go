package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Archive mirrors store writes to durable storage.
type Archive interface {
	SaveRoom(room Room) error
	SaveUser(user User) error
	SaveMessage(msg Message) error
	Load() (Snapshot, error)
	Close() error
}

// Snapshot is the state recovered from an Archive. Rooms carry their
// transcripts in chronological order.
type Snapshot struct {
	Rooms []Room
	Users []User
}

type roomRecord struct {
	ID        string    `gorm:"primarykey;size:36"`
	Name      string    `gorm:"size:200;not null"`
	IsDefault bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func (roomRecord) TableName() string {
	return "rooms"
}

type userRecord struct {
	ID        string    `gorm:"primarykey;size:36"`
	Username  string    `gorm:"size:200;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (userRecord) TableName() string {
	return "users"
}

type messageRecord struct {
	ID        string    `gorm:"primarykey;size:26"`
	RoomID    string    `gorm:"size:36;index;not null"`
	UserID    string    `gorm:"size:200;not null"`
	Username  string    `gorm:"size:200;not null"`
	Content   string    `gorm:"not null"`
	Timestamp time.Time `gorm:"index;not null"`
	Seq       uint64    `gorm:"index;not null;default:0"`
}

func (messageRecord) TableName() string {
	return "messages"
}

// SQLiteArchive is an Archive backed by a SQLite database through gorm.
type SQLiteArchive struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string, debug bool) (*SQLiteArchive, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access archive connection: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&roomRecord{}, &userRecord{}, &messageRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// SaveRoom upserts room metadata. Messages are archived separately.
func (a *SQLiteArchive) SaveRoom(room Room) error {
	rec := roomRecord{
		ID:        room.ID,
		Name:      room.Name,
		IsDefault: room.IsDefault,
		CreatedAt: room.CreatedAt,
	}
	if err := a.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// SaveUser upserts a user.
func (a *SQLiteArchive) SaveUser(user User) error {
	rec := userRecord{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	}
	if err := a.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// SaveMessage inserts an immutable message.
func (a *SQLiteArchive) SaveMessage(msg Message) error {
	rec := messageRecord{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Seq:       msg.Seq,
	}
	if err := a.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Load reads back every room, user and message. Transcripts come back in
// append order.
func (a *SQLiteArchive) Load() (Snapshot, error) {
	var rooms []roomRecord
	if err := a.db.Order("created_at").Find(&rooms).Error; err != nil {
		return Snapshot{}, fmt.Errorf("failed to load rooms: %w", err)
	}

	var users []userRecord
	if err := a.db.Order("created_at").Find(&users).Error; err != nil {
		return Snapshot{}, fmt.Errorf("failed to load users: %w", err)
	}

	var messages []messageRecord
	if err := a.db.Order("seq, timestamp, id").Find(&messages).Error; err != nil {
		return Snapshot{}, fmt.Errorf("failed to load messages: %w", err)
	}

	transcripts := make(map[string][]Message, len(rooms))
	for _, m := range messages {
		transcripts[m.RoomID] = append(transcripts[m.RoomID], Message{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Seq:       m.Seq,
		})
	}

	snap := Snapshot{
		Rooms: make([]Room, 0, len(rooms)),
		Users: make([]User, 0, len(users)),
	}
	for _, r := range rooms {
		msgs := transcripts[r.ID]
		if msgs == nil {
			msgs = []Message{}
		}
		snap.Rooms = append(snap.Rooms, Room{
			ID:        r.ID,
			Name:      r.Name,
			CreatedAt: r.CreatedAt,
			IsDefault: r.IsDefault,
			Messages:  msgs,
		})
	}
	for _, u := range users {
		snap.Users = append(snap.Users, User{
			ID:        u.ID,
			Username:  u.Username,
			CreatedAt: u.CreatedAt,
		})
	}
	return snap, nil
}

// Close releases the underlying connection.
func (a *SQLiteArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
