package domain

import "context"

// Normalizer canonicalizes raw patient and trial records into the
// comparable feature sets the evaluators consume.
type Normalizer interface {
	NormalizePatient(raw *RawPatientProfile) (*PatientProfile, error)
	NormalizeTrial(raw *RawTrial) (*Trial, error)
}

// Matcher scores and ranks trials for a patient. Both operations are pure
// computations over the supplied inputs; the context only bounds the
// batch worker pool.
type Matcher interface {
	ScoreTrial(patient *PatientProfile, trial *Trial) (*MatchResult, error)
	RankTrials(ctx context.Context, patient *PatientProfile, trials []*Trial) (*RankResult, error)
}

// Screener produces the deep-dive single-trial assessment. It reuses the
// matcher's evaluators so batch and single-trial numbers always agree.
type Screener interface {
	ScreenTrial(patient *PatientProfile, trial *Trial) (*ScreeningAssessment, error)
}

// TrialSource supplies trial records to the server surfaces. The core
// never fetches trials itself; callers resolve them up front.
type TrialSource interface {
	ListRecruiting(ctx context.Context, limit int) ([]*RawTrial, error)
	GetTrial(ctx context.Context, id string) (*RawTrial, error)
}

// ProfileSource supplies patient profiles to the server surfaces.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*RawPatientProfile, error)
}
