// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// User roles
const (
	RoleAnonymous   = "anonymous"
	RoleParticipant = "participant"
	RoleJudge       = "judge"
	RoleAdmin       = "admin"
)

// Team member roles
const (
	MemberLeader = "leader"
	MemberMember = "member"
)

// Project status constants
const (
	ProjectDraft     = "draft"
	ProjectSubmitted = "submitted"
	ProjectPublished = "published"
	ProjectArchived  = "archived"
)

// Competition stages
const (
	StageRegistration = "registration"
	StageGroupStage   = "group_stage"
	StageKnockout     = "knockout"
	StageSemiFinal    = "semi_final"
	StageFinal        = "final"
	StageCompleted    = "completed"
)

// PK match status constants
const (
	MatchPending   = "pending"
	MatchActive    = "active"
	MatchCompleted = "completed"
	MatchCancelled = "cancelled"
)

// Lock status constants
const (
	LockActive   = "active"
	LockConsumed = "consumed"
	LockExpired  = "expired"
	LockReleased = "released"
)

// Vote confidence levels
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Vote conflict reasons
const (
	ConflictExpired     = "expired"
	ConflictDuplicate   = "duplicate"
	ConflictInvalidLock = "invalid_lock"
	ConflictRoundEnded  = "round_ended"
)

// File owner types
const (
	OwnerUser    = "user"
	OwnerTeam    = "team"
	OwnerProject = "project"
)

// Envelope types

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type PaginationMeta struct {
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

type PaginatedResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    any            `json:"data"`
	Meta    PaginationMeta `json:"meta"`
}

// NewPaginationMeta fills in the derived page fields
func NewPaginationMeta(total, page, limit int) PaginationMeta {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return PaginationMeta{
		Total:       total,
		Page:        page,
		Limit:       limit,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

type ErrorDetail struct {
	Code             string            `json:"code"`
	Details          string            `json:"details"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	RequestID        string            `json:"requestId"`
}

type ErrorResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   ErrorDetail `json:"error"`
}

// Auth

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type AuthResponse struct {
	User         User      `json:"user"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type UpdateProfileRequest struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

type UserEnvelope struct {
	User User `json:"user"`
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Avatar       string     `json:"avatar,omitempty"`
	Role         string     `json:"role"`
	TeamID       *string    `json:"teamId,omitempty"`
	IsActive     bool       `json:"isActive"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	PasswordHash string     `json:"-"` // Never expose in JSON
}

// Teams

type TeamMember struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Avatar   string    `json:"avatar,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	Skills   []string  `json:"skills,omitempty"`
}

type Team struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Logo        string       `json:"logo,omitempty"`
	Description string       `json:"description,omitempty"`
	Members     []TeamMember `json:"members"`
	IsPublic    bool         `json:"isPublic"`
	MaxMembers  int          `json:"maxMembers"`
	InviteCode  string       `json:"inviteCode,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type CreateTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
	IsPublic    *bool  `json:"isPublic,omitempty"`
	MaxMembers  int    `json:"maxMembers,omitempty"`
}

type UpdateTeamRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Logo        *string `json:"logo,omitempty"`
	IsPublic    *bool   `json:"isPublic,omitempty"`
}

type TeamInviteRequest struct {
	Email   string `json:"email"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}

// Projects

type Project struct {
	ID            string     `json:"id"`
	TeamID        string     `json:"teamId"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	DemoVideoURL  string     `json:"demoVideoUrl,omitempty"`
	ExperienceURL string     `json:"experienceUrl,omitempty"`
	GithubURL     string     `json:"githubUrl,omitempty"`
	TechStack     []string   `json:"techStack,omitempty"`
	Category      string     `json:"category,omitempty"`
	Status        string     `json:"status"`
	IsPublished   bool       `json:"isPublished"`
	Version       int        `json:"version"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type CreateProjectRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	DemoVideoURL  string   `json:"demoVideoUrl,omitempty"`
	ExperienceURL string   `json:"experienceUrl,omitempty"`
	GithubURL     string   `json:"githubUrl,omitempty"`
	TechStack     []string `json:"techStack,omitempty"`
	Category      string   `json:"category,omitempty"`
}

type UpdateProjectRequest struct {
	Title         *string  `json:"title,omitempty"`
	Description   *string  `json:"description,omitempty"`
	DemoVideoURL  *string  `json:"demoVideoUrl,omitempty"`
	ExperienceURL *string  `json:"experienceUrl,omitempty"`
	GithubURL     *string  `json:"githubUrl,omitempty"`
	TechStack     []string `json:"techStack,omitempty"`
	Category      *string  `json:"category,omitempty"`
	Status        *string  `json:"status,omitempty"`
	IsPublished   *bool    `json:"isPublished,omitempty"`
	Changes       string   `json:"changes,omitempty"`
}

type ProjectVersion struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Version     int       `json:"version"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Changes     string    `json:"changes,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Competitions

type Competition struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description,omitempty"`
	CurrentStage         string     `json:"currentStage"`
	TotalRounds          int        `json:"totalRounds"`
	CompletedRounds      int        `json:"completedRounds"`
	ActiveMatches        int        `json:"activeMatches"`
	TotalMatches         int        `json:"totalMatches"`
	RegisteredTeams      int        `json:"registeredTeams"`
	MaxTeams             int        `json:"maxTeams"`
	StartTime            time.Time  `json:"startTime"`
	EndTime              time.Time  `json:"endTime"`
	EstimatedEndTime     *time.Time `json:"estimatedEndTime,omitempty"`
	RegistrationDeadline *time.Time `json:"registrationDeadline,omitempty"`
	PrizePool            *float64   `json:"prizePool,omitempty"`
	Rules                string     `json:"rules,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type CreateCompetitionRequest struct {
	Name                 string     `json:"name"`
	Description          string     `json:"description,omitempty"`
	TotalRounds          int        `json:"totalRounds"`
	MaxTeams             int        `json:"maxTeams"`
	StartTime            time.Time  `json:"startTime"`
	EndTime              time.Time  `json:"endTime"`
	EstimatedEndTime     *time.Time `json:"estimatedEndTime,omitempty"`
	RegistrationDeadline *time.Time `json:"registrationDeadline,omitempty"`
	PrizePool            *float64   `json:"prizePool,omitempty"`
	Rules                string     `json:"rules,omitempty"`
}

type UpdateStageRequest struct {
	Stage string `json:"stage"`
}

type CompetitionProgress struct {
	Competition Competition `json:"competition"`
	VotingStats VotingStats `json:"votingStats"`
}

// Matches and voting

type PKMatch struct {
	ID            string     `json:"id"`
	CompetitionID string     `json:"competitionId"`
	RoundID       string     `json:"roundId"`
	TeamA         Team       `json:"teamA"`
	TeamB         Team       `json:"teamB"`
	ProjectA      Project    `json:"projectA"`
	ProjectB      Project    `json:"projectB"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	TotalVotes    int        `json:"totalVotes"`
	TeamAVotes    int        `json:"teamAVotes"`
	TeamBVotes    int        `json:"teamBVotes"`
	JudgeLimit    int        `json:"judgeLimit"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type CreateMatchRequest struct {
	CompetitionID string     `json:"competitionId"`
	Round         int        `json:"round"`
	ProjectAID    string     `json:"projectAId"`
	ProjectBID    string     `json:"projectBId"`
	JudgeLimit    int        `json:"judgeLimit,omitempty"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
}

type GenerateRoundRequest struct {
	JudgeLimit int        `json:"judgeLimit,omitempty"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
}

type PKTaskResponse struct {
	Success       bool       `json:"success"`
	PK            *PKMatch   `json:"pk,omitempty"`
	LockID        string     `json:"lockId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	RemainingTime int        `json:"remainingTime,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type VoteSubmissionRequest struct {
	PKID         string `json:"pkId"`
	WinnerTeamID string `json:"winnerTeamId"`
	LockID       string `json:"lockId"`
	Confidence   string `json:"confidence,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type VoteRecord struct {
	ID                  string    `json:"id"`
	PKID                string    `json:"pkId"`
	JudgeID             string    `json:"judgeId"`
	WinnerTeamID        string    `json:"winnerTeamId"`
	LoserTeamID         string    `json:"loserTeamId"`
	WinnerTeamName      string    `json:"winnerTeamName"`
	LoserTeamName       string    `json:"loserTeamName"`
	Confidence          string    `json:"confidence,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	MatchDuration       int       `json:"matchDuration"`
	IsCorrectPrediction *bool     `json:"isCorrectPrediction,omitempty"`
	VotedAt             time.Time `json:"votedAt"`
	LockExpiresAt       time.Time `json:"lockExpiresAt"`
}

type VoteSubmissionResponse struct {
	Success        bool        `json:"success"`
	VoteRecord     *VoteRecord `json:"voteRecord,omitempty"`
	NextPK         *PKMatch    `json:"nextPK,omitempty"`
	Error          string      `json:"error,omitempty"`
	ConflictReason string      `json:"conflictReason,omitempty"`
}

type VotingStats struct {
	TotalJudges     int     `json:"totalJudges"`
	ActiveJudges    int     `json:"activeJudges"`
	TotalVotes      int     `json:"totalVotes"`
	AverageVoteTime float64 `json:"averageVoteTime"`
	CompletionRate  float64 `json:"completionRate"`
}

type UserVotingStats struct {
	TotalVotes         int     `json:"totalVotes"`
	CorrectPredictions int     `json:"correctPredictions"`
	AverageVoteTime    float64 `json:"averageVoteTime"`
	LongestStreak      int     `json:"longestStreak"`
	CurrentStreak      int     `json:"currentStreak"`
	FavoriteCategory   string  `json:"favoriteCategory,omitempty"`
	CompletedMatches   int     `json:"completedMatches"`
	PendingMatches     int     `json:"pendingMatches"`
}

type LeaderboardItem struct {
	Rank          int     `json:"rank"`
	Team          Team    `json:"team"`
	Project       Project `json:"project"`
	TotalVotes    int     `json:"totalVotes"`
	WinRate       float64 `json:"winRate"`
	MatchesPlayed int     `json:"matchesPlayed"`
	MatchesWon    int     `json:"matchesWon"`
	Score         float64 `json:"score"`
}

// Files

type FileInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"originalName"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	OwnerID      string    `json:"ownerId"`
	OwnerType    string    `json:"ownerType"`
	IsPublic     bool      `json:"isPublic"`
	UploadedAt   time.Time `json:"uploadedAt"`
	UploadedBy   string    `json:"-"`
}

type UploadResponse struct {
	Success bool       `json:"success"`
	Files   []FileInfo `json:"files"`
	Message string     `json:"message"`
}
