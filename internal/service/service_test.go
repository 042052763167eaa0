package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	alice   uint64 = 1
	bob     uint64 = 2
	carol   uint64 = 3
	listing uint64 = 42
)

type testEnv struct {
	db      *gorm.DB
	convs   ConversationService
	msgs    MessageService
	unread  UnreadCounter
	inbox   InboxService
	threads ThreadService
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// now advances one millisecond per call so every write gets a distinct time.
func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, u := range []model.User{
		{ID: alice, DisplayName: "Alice"},
		{ID: bob, DisplayName: "Bob"},
		{ID: carol, DisplayName: "Carol"},
	} {
		u := u
		if err := db.Create(&u).Error; err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Create(&model.Listing{ID: listing, OwnerID: bob, Title: "Road bike", Type: "item"}).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&model.ListingImage{ListingID: listing, ObjectPath: "listings/42/front.jpg"}).Error; err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	listingRepo := repository.NewListingRepository(db)
	userRepo := repository.NewUserRepository(db)
	thumbs := storage.StaticResolver{BaseURL: "https://cdn.example.com"}
	logger := zap.NewNop()

	convs := NewConversationService(convRepo, listingRepo, userRepo, thumbs, logger)
	convs.(*conversationService).now = clock.now
	msgs := NewMessageService(repository.NewTransactor(db), msgRepo, convs, DefaultMaxMessageLength)
	msgs.(*messageService).now = clock.now
	unread := NewUnreadCounter(msgRepo, convs)

	return &testEnv{
		db:      db,
		convs:   convs,
		msgs:    msgs,
		unread:  unread,
		inbox:   NewInboxService(convRepo, msgRepo, listingRepo, userRepo, unread, thumbs, logger),
		threads: NewThreadService(convs, msgs),
		clock:   clock,
	}
}

func ptr(v uint64) *uint64 {
	return &v
}

func (e *testEnv) conversation(t *testing.T, a, b uint64, listingID *uint64) *model.Conversation {
	t.Helper()
	cv, err := e.convs.FindOrCreate(context.Background(), a, b, listingID)
	if err != nil {
		t.Fatal(err)
	}
	return cv
}

func (e *testEnv) send(t *testing.T, convID, sender uint64, content string) *model.Message {
	t.Helper()
	m, err := e.msgs.Append(context.Background(), convID, sender, content)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (e *testEnv) countFor(t *testing.T, convID, user uint64) int64 {
	t.Helper()
	n, err := e.unread.CountFor(context.Background(), convID, user)
	if err != nil {
		t.Fatal(err)
	}
	return n
}
