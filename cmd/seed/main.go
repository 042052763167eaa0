package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shinyyama/classifieds-messaging/internal/config"
	"github.com/shinyyama/classifieds-messaging/internal/db"
	"github.com/shinyyama/classifieds-messaging/internal/model"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"github.com/shinyyama/classifieds-messaging/internal/service"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type seedListing struct {
	OwnerIndex int
	Title      string
	Type       string
	Images     int
}

var seedUsers = []string{"Aiko", "Kenji", "Mara", "Tomas"}

var seedListings = []seedListing{
	{OwnerIndex: 1, Title: "Road bike, 54cm frame", Type: "item", Images: 3},
	{OwnerIndex: 1, Title: "Studio apartment near the station", Type: "housing", Images: 2},
	{OwnerIndex: 2, Title: "Weekend guitar lessons", Type: "service", Images: 1},
	{OwnerIndex: 3, Title: "Oak dining table", Type: "item", Images: 2},
	{OwnerIndex: 3, Title: "Part-time barista", Type: "job", Images: 0},
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	canSeed, err := shouldSeed(ctx, gdb)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("users already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	var users []model.User
	var listings []model.Listing
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range seedUsers {
			u := model.User{DisplayName: name}
			if err := tx.Create(&u).Error; err != nil {
				return fmt.Errorf("insert user %q: %w", name, err)
			}
			users = append(users, u)
		}
		for idx, sl := range seedListings {
			l := model.Listing{OwnerID: users[sl.OwnerIndex].ID, Title: sl.Title, Type: sl.Type}
			if err := tx.Create(&l).Error; err != nil {
				return fmt.Errorf("insert listing %q: %w", sl.Title, err)
			}
			for k := 0; k < sl.Images; k++ {
				img := model.ListingImage{ListingID: l.ID, ObjectPath: picsumURL(sl.Type, idx+1, k+1), Position: k}
				if err := tx.Create(&img).Error; err != nil {
					return fmt.Errorf("insert image for %q: %w", sl.Title, err)
				}
			}
			listings = append(listings, l)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := seedConversation(ctx, gdb, users, listings); err != nil {
		return err
	}
	log.Printf("seeded %d users, %d listings", len(users), len(listings))
	return nil
}

// seedConversation goes through the services so the demo thread carries the
// same invariants as live traffic.
func seedConversation(ctx context.Context, gdb *gorm.DB, users []model.User, listings []model.Listing) error {
	logger := zap.NewNop()
	tx := repository.NewTransactor(gdb)
	convRepo := repository.NewConversationRepository(gdb)
	msgRepo := repository.NewMessageRepository(gdb)
	listingRepo := repository.NewListingRepository(gdb)
	userRepo := repository.NewUserRepository(gdb)
	convs := service.NewConversationService(convRepo, listingRepo, userRepo, storage.StaticResolver{}, logger)
	msgs := service.NewMessageService(tx, msgRepo, convs, service.DefaultMaxMessageLength)

	buyer, seller := users[0], users[1]
	cv, err := convs.StartFromListing(ctx, buyer.ID, listings[0].ID)
	if err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	script := []struct {
		from    uint64
		content string
	}{
		{buyer.ID, "Hi! Is the bike still available?"},
		{seller.ID, "Yes, it is. Want to see it this weekend?"},
		{buyer.ID, "Saturday morning works for me."},
	}
	for _, line := range script {
		if _, err := msgs.Append(ctx, cv.ID, line.from, line.content); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return nil
}

func shouldSeed(ctx context.Context, gdb *gorm.DB) (bool, error) {
	var cnt int64
	if err := gdb.WithContext(ctx).Model(&model.User{}).Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	force := os.Getenv("FORCE_SEED")
	return strings.EqualFold(force, "true"), nil
}

func picsumURL(slug string, listingIndex int, k int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s-%d-%d/600/600", slug, listingIndex, k)
}
