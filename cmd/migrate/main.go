package main

import (
	"fmt"
	"log"
	"os"

	"swiftdash-backend/internal/database"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Get database URL
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migration completed successfully!")

	// Query and display summary
	var result struct {
		TotalOrders     int `db:"total_orders"`
		ActiveOrders    int `db:"active_orders"`
		DeliveredOrders int `db:"delivered_orders"`
		Partners        int `db:"partners"`
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM orders) AS total_orders,
			(SELECT COUNT(*) FROM orders WHERE status IN ('partner_assigned', 'out_for_delivery')) AS active_orders,
			(SELECT COUNT(*) FROM orders WHERE status = 'delivered') AS delivered_orders,
			(SELECT COUNT(*) FROM partners) AS partners
	`

	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Total orders:            %d\n", result.TotalOrders)
	fmt.Printf("Active orders:           %d\n", result.ActiveOrders)
	fmt.Printf("Delivered orders:        %d\n", result.DeliveredOrders)
	fmt.Printf("Delivery partners:       %d\n", result.Partners)
	fmt.Println("============================================================")
}
