package outcome

import (
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/kapu/chess-arena-server/internal/domain"
)

func playUCI(t *testing.T, moves ...string) *nchess.Game {
	t.Helper()
	g := nchess.NewGame()
	for _, mv := range moves {
		if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			t.Fatalf("move %s: %v", mv, err)
		}
	}
	return g
}

func TestContinueWithoutSignals(t *testing.T) {
	g := playUCI(t, "e2e4", "e7e5")
	if v := Evaluate(g, Signals{}); v != nil {
		t.Fatalf("expected no verdict, got %+v", v)
	}
}

func TestResignationBeatsEverything(t *testing.T) {
	g := playUCI(t, "e2e4")
	v := Evaluate(g, Signals{ResignColor: domain.White, TimeoutColor: domain.Black, DrawAgreed: true})
	if v == nil || v.Reason != domain.ReasonResignation {
		t.Fatalf("expected resignation verdict, got %+v", v)
	}
	if v.Result != domain.ResultBlackWins || v.Winner != domain.Black {
		t.Fatalf("white resigned, black should win: %+v", v)
	}
}

func TestDrawAgreement(t *testing.T) {
	g := playUCI(t, "e2e4", "e7e5")
	v := Evaluate(g, Signals{DrawAgreed: true})
	if v == nil || v.Result != domain.ResultDraw || v.Reason != domain.ReasonDrawAgreement {
		t.Fatalf("expected agreed draw, got %+v", v)
	}
	if v.Winner != "" {
		t.Fatalf("draw carries no winner, got %q", v.Winner)
	}
}

func TestTimeout(t *testing.T) {
	g := playUCI(t, "e2e4", "e7e5")
	v := Evaluate(g, Signals{TimeoutColor: domain.White})
	if v == nil || v.Reason != domain.ReasonTimeout || v.Result != domain.ResultBlackWins {
		t.Fatalf("expected black win by timeout, got %+v", v)
	}
}

func TestDisconnectBeforeFirstMoveAborts(t *testing.T) {
	g := nchess.NewGame()
	v := Evaluate(g, Signals{DisconnectColor: domain.White, FirstMovePending: true})
	if v == nil || v.Result != domain.ResultAborted || v.Reason != domain.ReasonAbort {
		t.Fatalf("expected abort, got %+v", v)
	}
	if v.Winner != "" {
		t.Fatalf("abort credits no winner, got %q", v.Winner)
	}
}

func TestDisconnectAfterFirstMoveIsAbandonment(t *testing.T) {
	g := playUCI(t, "e2e4", "e7e5")
	v := Evaluate(g, Signals{DisconnectColor: domain.Black})
	if v == nil || v.Result != domain.ResultWhiteWins || v.Reason != domain.ReasonAbandonment {
		t.Fatalf("expected white win by abandonment, got %+v", v)
	}
}

func TestFoolsMateCheckmate(t *testing.T) {
	g := playUCI(t, "f2f3", "e7e5", "g2g4", "d8h4")
	v := Evaluate(g, Signals{})
	if v == nil || v.Result != domain.ResultBlackWins || v.Reason != domain.ReasonCheckmate {
		t.Fatalf("expected black checkmate, got %+v", v)
	}
	if v.Winner != domain.Black {
		t.Fatalf("winner should be black, got %q", v.Winner)
	}
}

func TestMatingMaterialCensus(t *testing.T) {
	g := nchess.NewGame()
	b := g.Position().Board()
	if !hasMatingMaterial(b, domain.White) || !hasMatingMaterial(b, domain.Black) {
		t.Fatal("full starting armies must both have mating material")
	}
}

func TestTimeoutAgainstBareKingIsDraw(t *testing.T) {
	fen, err := nchess.FEN("k7/8/8/8/8/8/8/K6Q b - - 0 1")
	if err != nil {
		t.Fatalf("fen: %v", err)
	}
	g := nchess.NewGame(fen)
	// Black flags; white holds a queen, so white wins on time.
	v := Evaluate(g, Signals{TimeoutColor: domain.Black})
	if v == nil || v.Result != domain.ResultWhiteWins {
		t.Fatalf("expected white win, got %+v", v)
	}
	// White flags; black cannot ever mate with a bare king, so draw.
	v = Evaluate(g, Signals{TimeoutColor: domain.White})
	if v == nil || v.Result != domain.ResultDraw || v.Reason != domain.ReasonTimeout {
		t.Fatalf("expected timeout draw, got %+v", v)
	}
}
