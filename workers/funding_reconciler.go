package workers

import (
	"context"
	"log"
	"time"

	"custodial-wallet-service/models"
	"custodial-wallet-service/services"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartFundingReconciler periodically retries bootstrap funding for wallets
// stuck in the created-but-unfunded state. That state is valid and
// recoverable — a crash between the persistence write and the on-chain
// transfer must never lose a wallet, so this job is the recovery path.
func StartFundingReconciler(ctx context.Context, db *gorm.DB, wallets *services.WalletService, interval time.Duration) {
	if wallets.MasterKey == nil {
		// Funding is soft-disabled; no retry can make progress.
		log.Println("⚠️  [Reconciler] Master wallet not configured - reconciler disabled")
		return
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("❌ [Reconciler] Failed to create scheduler: %v", err)
		return
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			retryPendingFunding(ctx, db, wallets)
		}),
	)
	if err != nil {
		log.Printf("❌ [Reconciler] Failed to schedule job: %v", err)
		return
	}

	sched.Start()

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.Printf("⚠️ [Reconciler] Scheduler shutdown: %v", err)
		}
	}()
}

// retryPendingFunding is one reconciliation sweep over unfunded wallets.
func retryPendingFunding(ctx context.Context, db *gorm.DB, wallets *services.WalletService) {
	var pending []models.Wallet
	if err := db.Where("is_activated = ?", false).Limit(20).Find(&pending).Error; err != nil {
		log.Printf("❌ [Reconciler] DB error: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Printf("📥 [Reconciler] %d unfunded wallet(s) pending", len(pending))
	for _, w := range pending {
		if !wallets.AutoFundWallet(ctx, w.PublicKey, services.DefaultFundAmountSOL) {
			// The transfer failed; the wallet stays recoverable.
			continue
		}
		if err := db.Model(&models.Wallet{}).Where("id = ?", w.ID).
			Update("is_activated", true).Error; err != nil {
			log.Printf("❌ [Reconciler] Failed to activate wallet %s: %v", w.PublicKey, err)
			continue
		}
		log.Printf("✅ [Reconciler] Funded and activated wallet %s", w.PublicKey)
	}
}
