// Command claimsim runs a batch of synthetic claims through an in-process
// adjudicator and prints how each one was decided.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/consensus"
	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/emergency"
	"claims_adjudicator/internal/jury"
	"claims_adjudicator/internal/ledger"
	"claims_adjudicator/internal/payout"
	"claims_adjudicator/internal/processor"
	"claims_adjudicator/internal/repository/memory"
	"claims_adjudicator/internal/reputation"
	"claims_adjudicator/internal/risk"
	"claims_adjudicator/pkg/crypto"
	"claims_adjudicator/pkg/validator"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var incidentTypes = []domain.IncidentType{
	domain.IncidentCollision,
	domain.IncidentTheft,
	domain.IncidentInjury,
	domain.IncidentCancellation,
}

func main() {
	claims := flag.Int("claims", 25, "number of claims to simulate")
	jurors := flag.Int("jurors", 12, "size of the validator pool")
	seed := flag.Uint64("seed", 42, "random seed")
	verbose := flag.Bool("v", false, "log engine output to stderr")
	flag.Parse()

	out := io.Discard
	if *verbose {
		out = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Every jury session advances the clock past its deadline, so start far enough
	// back that simulated incidents never land in the future.
	start := time.Now().UTC().Add(-time.Duration(*claims) * (consensus.DefaultConfig().ReviewWindow + time.Hour))
	sim := newSimulation(rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)), start, logger)
	if err := sim.seedJurors(context.Background(), *jurors); err != nil {
		color.Red("seeding jurors: %v", err)
		os.Exit(1)
	}

	color.Cyan("Simulating %d claims against %d validators (seed %d)", *claims, *jurors, *seed)
	if err := sim.run(context.Background(), *claims); err != nil {
		color.Red("simulation aborted: %v", err)
		os.Exit(1)
	}
	sim.summary()
}

type simulation struct {
	rng        *rand.Rand
	clock      *clock.Manual
	validators *memory.ValidatorRepository
	proc       *processor.ClaimProcessor
	fund       *emergency.Monitor
	reputation *reputation.Ledger
	outcomes   map[domain.ClaimStatus]int
	paid       decimal.Decimal
}

func newSimulation(rng *rand.Rand, start time.Time, logger *slog.Logger) *simulation {
	clk := clock.NewManual(start)

	claims := memory.NewClaimRepository()
	assessments := memory.NewAssessmentRepository()
	validators := memory.NewValidatorRepository()
	payouts := memory.NewPayoutRepository()

	signer := crypto.NewSigner("claimsim", logger)
	fund := emergency.NewMonitor(claims, emergency.DefaultConfig(), clk, nil, logger)
	repLedger := reputation.NewLedger(validators, reputation.DefaultConfig(), clk, nil, logger)
	ports := &simPorts{rng: rng}

	proc := processor.NewClaimProcessor(processor.Dependencies{
		Claims:      claims,
		Assessments: assessments,
		Payouts:     payouts,
		Scorer:      risk.NewScorer(assessments, clk, logger),
		Rules:       processor.NewRuleEngine(memory.NewRuleRepository(), nil, logger),
		Selector:    jury.NewSelector(validators, jury.NewRepositoryClaimLookup(claims), nil, jury.DefaultConfig(), clk, logger),
		Tracker:     consensus.NewTracker(memory.NewSessionRepository(), repLedger, nil, clk, consensus.DefaultConfig(), nil, logger),
		Engine:      payout.NewEngine(fund, payout.DefaultConfig(), clk, logger),
		Executor:    payout.NewExecutor(payouts, ledger.NewMemory(signer), signer, fund, clk, nil, logger),
		Validator:   validator.NewClaimValidator(decimal.NewFromInt(1_000_000)),
		Evidence:    ports,
		Profiles:    ports,
		External:    ports,
		Network:     ports,
		Clock:       clk,
	}, logger)

	return &simulation{
		rng:        rng,
		clock:      clk,
		validators: validators,
		proc:       proc,
		fund:       fund,
		reputation: repLedger,
		outcomes:   make(map[domain.ClaimStatus]int),
		paid:       decimal.Zero,
	}
}

// seedJurors registers the pool and lifts reputations past the juror floor,
// standing in for a history of accurate votes.
func (s *simulation) seedJurors(ctx context.Context, n int) error {
	for i := range n {
		id := fmt.Sprintf("juror-%02d", i+1)
		_, err := s.reputation.Register(ctx, reputation.Registration{
			ValidatorID:    id,
			Stake:          decimal.NewFromInt(int64(2000 + s.rng.IntN(8000))),
			CompletedRides: 60 + s.rng.IntN(400),
		})
		if err != nil {
			return err
		}
		rep := 760 + s.rng.IntN(240)
		if _, err := s.validators.Update(ctx, id, func(v *domain.Validator) error {
			v.Reputation = rep
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulation) run(ctx context.Context, n int) error {
	for i := range n {
		claim := s.randomClaim(i)
		submitted, err := s.proc.SubmitClaim(ctx, claim)
		if err != nil {
			color.Yellow("  claim %d rejected at intake: %v", i+1, err)
			continue
		}

		result, err := s.proc.AssessClaim(ctx, submitted.ID)
		if err != nil {
			color.Yellow("  claim %d not assessed: %v", i+1, err)
			continue
		}

		if result.Session != nil {
			s.deliberate(ctx, result.Session)
		}

		final, err := s.proc.GetClaim(ctx, submitted.ID)
		if err != nil {
			return err
		}
		s.report(i+1, final, result.Assessment)
	}
	return nil
}

// deliberate casts votes from most of the panel, leaning with the claim's honesty,
// then runs the clock past the deadline so stragglers cannot hold the session open.
func (s *simulation) deliberate(ctx context.Context, session *domain.ReviewSession) {
	honest := s.rng.Float64() < 0.75
	for _, juror := range session.Jurors {
		if s.rng.Float64() < 0.15 {
			continue
		}
		decision := domain.VoteDeny
		switch r := s.rng.Float64(); {
		case honest && r < 0.85, !honest && r < 0.15:
			decision = domain.VoteApprove
		case r > 0.95:
			decision = domain.VoteNeedInfo
		}
		_, err := s.proc.SubmitVote(ctx, consensus.VoteRequest{
			SessionID:  session.ID,
			JurorID:    juror,
			Decision:   decision,
			Reasoning:  "simulated review",
			Confidence: 0.6 + s.rng.Float64()*0.4,
		})
		if err != nil {
			// Early consensus closes the session before every juror has voted.
			break
		}
	}
	s.clock.Advance(consensus.DefaultConfig().ReviewWindow + time.Second)
}

func (s *simulation) randomClaim(i int) *domain.Claim {
	amount := s.pickAmount()
	claim := domain.NewClaim(
		fmt.Sprintf("pol-%04d", s.rng.IntN(500)),
		fmt.Sprintf("rider-%04d", i+1),
		incidentTypes[s.rng.IntN(len(incidentTypes))],
		amount,
	)
	claim.IncidentAt = s.clock.Now().Add(-time.Duration(1+s.rng.IntN(72)) * time.Hour)
	claim.RideID = fmt.Sprintf("ride-%06d", s.rng.IntN(1_000_000))
	claim.Description = "simulated incident report"
	if s.rng.Float64() < 0.6 {
		claim.DocumentIDs = []string{fmt.Sprintf("doc-%d-a", i+1)}
	}
	return claim
}

func (s *simulation) pickAmount() decimal.Decimal {
	switch r := s.rng.Float64(); {
	case r < 0.5:
		return decimal.NewFromInt(int64(50 + s.rng.IntN(900)))
	case r < 0.9:
		return decimal.NewFromInt(int64(1000 + s.rng.IntN(20_000)))
	default:
		return decimal.NewFromInt(int64(50_000 + s.rng.IntN(100_000)))
	}
}

func (s *simulation) report(n int, claim *domain.Claim, assessment *domain.FraudAssessment) {
	s.outcomes[claim.Status]++
	score := "-"
	if assessment != nil {
		score = fmt.Sprintf("%.2f/%.2f", assessment.FraudScore, assessment.Confidence)
	}

	line := fmt.Sprintf("  #%-3d %-13s %12s  risk %-9s", n, claim.IncidentType, claim.Amount.StringFixed(2), score)
	switch claim.Status {
	case domain.ClaimPaid:
		s.paid = s.paid.Add(claim.Amount)
		fmt.Printf("%s %s via %s\n", line, color.GreenString("PAID"), claim.TriggerTier)
	case domain.ClaimRejected:
		fmt.Printf("%s %s\n", line, color.RedString("REJECTED"))
	case domain.ClaimManualReview:
		fmt.Printf("%s %s %s\n", line, color.YellowString("MANUAL_REVIEW"), claim.Outcome)
	default:
		fmt.Printf("%s %s\n", line, color.WhiteString(string(claim.Status)))
	}
}

func (s *simulation) summary() {
	color.Cyan("\nOutcomes")
	for _, status := range []domain.ClaimStatus{
		domain.ClaimPaid,
		domain.ClaimRejected,
		domain.ClaimManualReview,
		domain.ClaimApproved,
		domain.ClaimCommunityReview,
	} {
		fmt.Printf("  %-17s %d\n", status, s.outcomes[status])
	}

	fund := s.fund.Snapshot()
	fmt.Printf("  paid out          %s\n", color.GreenString(s.paid.StringFixed(2)))
	fmt.Printf("  fund available    %s of %s\n", fund.Available.StringFixed(2), fund.TotalCapacity.StringFixed(2))

	color.Cyan("\nValidators")
	all, _ := s.reputation.List(context.Background())
	for _, v := range all {
		rep := color.WhiteString("%4d", v.Reputation)
		if v.Reputation < jury.DefaultConfig().ReputationFloor {
			rep = color.RedString("%4d", v.Reputation)
		}
		fmt.Printf("  %-9s rep %s  stake %10s  votes %d\n", v.ID, rep, v.Stake.StringFixed(2), v.TotalVotes)
	}
}

// simPorts fabricates collaborator answers; roughly one claimant in six looks risky.
type simPorts struct {
	rng *rand.Rand
}

func (p *simPorts) Documents(_ context.Context, claim *domain.Claim) ([]domain.DocumentMeta, error) {
	docs := make([]domain.DocumentMeta, 0, len(claim.DocumentIDs))
	for _, id := range claim.DocumentIDs {
		created := claim.IncidentAt.Add(time.Duration(p.rng.IntN(6)) * time.Hour)
		docs = append(docs, domain.DocumentMeta{
			ID:            id,
			DeclaredType:  "photo",
			CreatedAt:     created,
			ModifiedAt:    created,
			OCRConfidence: 0.7 + p.rng.Float64()*0.3,
		})
	}
	return docs, nil
}

func (p *simPorts) PolicyValid(context.Context, string, string) (bool, error) { return true, nil }

func (p *simPorts) History(context.Context, string) (*domain.ClaimantHistory, error) {
	if p.rng.IntN(6) == 0 {
		return &domain.ClaimantHistory{RideCount: 5 + p.rng.IntN(10), SafetyScore: 0.3}, nil
	}
	return &domain.ClaimantHistory{RideCount: 50 + p.rng.IntN(500), SafetyScore: 0.8 + p.rng.Float64()*0.2}, nil
}

func (p *simPorts) Verify(context.Context, *domain.Claim) (*domain.ExternalEvidence, error) {
	route := 0.6 + p.rng.Float64()*0.4
	return &domain.ExternalEvidence{
		WeatherAvailable:       true,
		WeatherConsistent:      p.rng.Float64() < 0.9,
		WeatherConfidence:      0.8,
		PoliceReportAvailable:  p.rng.Float64() < 0.5,
		PoliceReportConfidence: 0.85,
		RoutePlausibility:      &route,
	}, nil
}

func (p *simPorts) Analyze(context.Context, *domain.Claim) (*domain.NetworkSignals, error) {
	overlap := p.rng.IntN(20) == 0
	return &domain.NetworkSignals{DeviceOverlap: &overlap}, nil
}
