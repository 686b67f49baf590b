package store

import (
	"context"
	"errors"
	"testing"

	"github.com/zlp/pool-engine/internal/model"
)

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	events := []model.Event{
		{ID: "1", Kind: model.EventLiquidityProvided, Account: "0xAbC", Height: 10},
		{ID: "2", Kind: model.EventBorrowOriginated, Account: "0xdef", Height: 20},
		{ID: "3", Kind: model.EventLendRepaid, Account: "0x001", Height: 30, Data: map[string]string{"lender": "0xABC"}},
	}
	for i := range events {
		if err := s.AppendEvent(ctx, &events[i]); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.ListEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].ID != "3" || latest[1].ID != "2" {
		t.Errorf("expected newest-first [3 2], got %+v", latest)
	}

	byAccount, err := s.GetEventsByAccount(ctx, "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if len(byAccount) != 2 || byAccount[0].ID != "1" || byAccount[1].ID != "3" {
		t.Errorf("expected events 1 and 3 for account, got %+v", byAccount)
	}

	byAccount[1].Data["lender"] = "mutated"
	again, _ := s.GetEventsByAccount(ctx, "0xabc")
	if again[1].Data["lender"] != "0xABC" {
		t.Error("stored event payload must not be mutable through results")
	}
}

func TestMemoryStore_Snapshots(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, h := range []uint64{1, 2, 3} {
		if err := s.SaveSnapshot(ctx, &model.PoolSnapshot{Height: h, Phase: "LP"}); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Height != 3 {
		t.Errorf("expected height 3, got %d", latest.Height)
	}

	all, err := s.ListSnapshots(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Height != 3 || all[2].Height != 1 {
		t.Errorf("unexpected snapshot order %+v", all)
	}
}
