package memory_test

import (
	"testing"

	"github.com/gosuda/inkboard/internal/domain"
	"github.com/gosuda/inkboard/internal/store/memory"
	"github.com/gosuda/inkboard/internal/store/storetest"
)

func open(t *testing.T) (domain.BoardRepository, domain.CanvasRepository) {
	s := memory.New()
	return s.Boards(), s.Canvas()
}

func TestBoardRepository(t *testing.T) {
	t.Parallel()
	storetest.BoardRepository(t, open)
}

func TestCanvasRepository(t *testing.T) {
	t.Parallel()
	storetest.CanvasRepository(t, open)
}
