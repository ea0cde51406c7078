package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/mileusna/useragent"

	"portfolio-analytics/internal/clientinfo"
	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/repository"
	"portfolio-analytics/internal/schema"
	"portfolio-analytics/pkg/logger"
)

// Result bounds for admin queries
const (
	SessionListLimit    = 250
	SessionEventLimit   = 2000
	VisitorListLimit    = 250
	VisitorSessionLimit = 200
	BotSessionLimit     = 250
	BotReasonLimit      = 50
	BotUserAgentLimit   = 20
	MapPointLimit       = 500

	DefaultBotDays = 30
	MaxBotDays     = 90
)

// adminService builds admin views over the analytics tables
type adminService struct {
	repo   repository.AdminRepository
	schema schema.Ensurer
	runner TaskRunner
	logger *logger.Logger
}

// NewAdminService creates the admin read service. runner may be nil, which disables name backfill.
func NewAdminService(repo repository.AdminRepository, ensurer schema.Ensurer, runner TaskRunner, log *logger.Logger) AdminService {
	return &adminService{
		repo:   repo,
		schema: ensurer,
		runner: runner,
		logger: log,
	}
}

func (s *adminService) ListSessions(ctx context.Context, bots bool) ([]domain.SessionView, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListSessions(ctx, bots, SessionListLimit)
	if err != nil {
		return nil, err
	}
	return sessionViews(rows), nil
}

func (s *adminService) GetSession(ctx context.Context, sid string) (*domain.SessionDetail, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	row, err := s.repo.GetSession(ctx, sid)
	if err != nil || row == nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, sid, SessionEventLimit)
	if err != nil {
		return nil, err
	}
	return &domain.SessionDetail{Session: sessionView(*row), Events: events}, nil
}

// ListVisitors returns the latest visitors and queues a backfill for any without a stored name
func (s *adminService) ListVisitors(ctx context.Context) ([]domain.VisitorView, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListVisitors(ctx, VisitorListLimit)
	if err != nil {
		return nil, err
	}

	views := make([]domain.VisitorView, 0, len(rows))
	missing := map[string]string{}
	for _, v := range rows {
		view := visitorView(v)
		if v.DisplayName == nil {
			missing[v.VID] = view.DisplayName
		}
		views = append(views, view)
	}

	if len(missing) > 0 && s.runner != nil {
		err := s.runner.Submit(Task{
			Name: "display_name_backfill",
			Run: func(ctx context.Context) error {
				return s.repo.FillDisplayNames(ctx, missing)
			},
		})
		if err != nil {
			s.logger.WithError(err).Debug("Display name backfill not queued")
		}
	}
	return views, nil
}

func (s *adminService) GetVisitor(ctx context.Context, vid string) (*domain.VisitorDetail, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	v, err := s.repo.GetVisitor(ctx, vid)
	if err != nil || v == nil {
		return nil, err
	}
	rows, err := s.repo.ListVisitorSessions(ctx, vid, VisitorSessionLimit)
	if err != nil {
		return nil, err
	}
	return &domain.VisitorDetail{Visitor: visitorView(*v), Sessions: sessionViews(rows)}, nil
}

// RenameVisitor trims and clamps the name; an empty name clears it
func (s *adminService) RenameVisitor(ctx context.Context, rename domain.VisitorRename) error {
	if err := s.schema.Ensure(ctx); err != nil {
		return err
	}
	var name *string
	if rename.DisplayName != nil {
		name = optional(strings.TrimSpace(*rename.DisplayName), domain.MaxDisplayNameLength)
	}
	return s.repo.RenameVisitor(ctx, rename.VID, name)
}

func (s *adminService) Bots(ctx context.Context, days int) (*domain.BotSummary, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	days = ClampBotDays(days)

	rows, err := s.repo.BotSessions(ctx, days, BotSessionLimit)
	if err != nil {
		return nil, err
	}
	reasons, err := s.repo.BotReasons(ctx, days, BotReasonLimit)
	if err != nil {
		return nil, err
	}
	agents, err := s.repo.BotUserAgents(ctx, days, BotUserAgentLimit)
	if err != nil {
		return nil, err
	}

	return &domain.BotSummary{
		Days:       days,
		Sessions:   sessionViews(rows),
		Reasons:    reasons,
		UserAgents: agents,
	}, nil
}

// MapPoints returns visitors whose latest human session has coordinates
func (s *adminService) MapPoints(ctx context.Context) ([]domain.MapPoint, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	rows, err := s.repo.MapRows(ctx, MapPointLimit)
	if err != nil {
		return nil, err
	}

	points := make([]domain.MapPoint, 0, len(rows))
	for _, r := range rows {
		geo := domain.ParseGeo(r.Geo)
		info := domain.ParseIPInfo(r.IPInfo)

		lat, lon, ok := coordinates(geo, info)
		if !ok {
			continue
		}
		points = append(points, domain.MapPoint{
			VID:         r.VID,
			DisplayName: displayNameOrGenerated(r.VID, r.DisplayName),
			SID:         r.SID,
			StartedAt:   r.StartedAt,
			IP:          r.IP,
			PTR:         r.PTR,
			Sessions:    r.Sessions,
			City:        firstNonEmpty(geo.City, info.City),
			Region:      firstNonEmpty(geo.Region, info.Region),
			Country:     firstNonEmpty(geo.Country, info.Country),
			Org:         nonEmpty(info.OrgName()),
			Lat:         lat,
			Lon:         lon,
		})
	}
	return points, nil
}

// ClampBotDays bounds the bots window to 1..90 days; zero or negative selects the default
func ClampBotDays(days int) int {
	switch {
	case days <= 0:
		return DefaultBotDays
	case days > MaxBotDays:
		return MaxBotDays
	default:
		return days
	}
}

func sessionViews(rows []domain.SessionRow) []domain.SessionView {
	views := make([]domain.SessionView, 0, len(rows))
	for _, r := range rows {
		views = append(views, sessionView(r))
	}
	return views
}

func sessionView(r domain.SessionRow) domain.SessionView {
	geo := domain.ParseGeo(r.Geo)
	info := domain.ParseIPInfo(r.IPInfo)

	v := domain.SessionView{
		SID:                     r.SID,
		VID:                     r.VID,
		DisplayName:             displayNameOrGenerated(r.VID, r.DisplayName),
		StartedAt:               r.StartedAt,
		EndedAt:                 r.EndedAt,
		IP:                      r.IP,
		PTR:                     r.PTR,
		Location:                nonEmpty(geo.Location()),
		City:                    firstNonEmpty(geo.City, info.City),
		Region:                  firstNonEmpty(geo.Region, info.Region),
		Country:                 firstNonEmpty(geo.Country, info.Country),
		Latitude:                nonEmpty(geo.Latitude),
		Longitude:               nonEmpty(geo.Longitude),
		Org:                     nonEmpty(info.OrgName()),
		Net:                     nonEmpty(geo.Network()),
		BotScore:                r.BotScore,
		BotReasons:              r.BotReasons,
		IsBot:                   r.IsBot != nil && *r.IsBot,
		IsMobile:                r.IsMobile,
		Orientation:             r.Orientation,
		UserAgent:               r.UserAgent,
		Referrer:                r.Referrer,
		Page:                    r.Page,
		ActiveSeconds:           r.ActiveSeconds,
		IdleSeconds:             r.IdleSeconds,
		SessionSeconds:          r.SessionSeconds,
		Interactions:            r.Interactions,
		FirstInteractionSeconds: r.FirstInteractionSeconds,
		Overlays:                domain.RawJSON(r.Overlays),
		OverlaysUnique:          r.OverlaysUnique,
	}
	if r.Referrer != nil {
		v.ReferrerHost = nonEmpty(clientinfo.SafeHost(*r.Referrer))
	}
	if r.UserAgent != nil {
		v.Device = deviceSummary(*r.UserAgent)
	}
	return v
}

func visitorView(v domain.Visitor) domain.VisitorView {
	info := domain.ParseIPInfo(v.IPInfo)
	return domain.VisitorView{
		VID:         v.VID,
		DisplayName: displayNameOrGenerated(v.VID, v.DisplayName),
		FirstSeenAt: v.FirstSeenAt,
		LastSeenAt:  v.LastSeenAt,
		FirstIP:     v.FirstIP,
		LastIP:      v.LastIP,
		PTR:         v.PTR,
		City:        nonEmpty(info.City),
		Region:      nonEmpty(info.Region),
		Country:     nonEmpty(info.Country),
		Org:         nonEmpty(info.OrgName()),
		IPInfoError: v.IPInfoError,
		PTRError:    v.PTRError,
	}
}

// deviceSummary parses a user agent into browser, OS and device kind
func deviceSummary(ua string) *domain.Device {
	if strings.TrimSpace(ua) == "" {
		return nil
	}
	parsed := useragent.Parse(ua)

	browser := parsed.Name
	if browser != "" && parsed.Version != "" {
		browser += " " + strings.SplitN(parsed.Version, ".", 2)[0]
	}

	kind := "unknown"
	switch {
	case parsed.Bot:
		kind = "bot"
	case parsed.Tablet:
		kind = "tablet"
	case parsed.Mobile:
		kind = "mobile"
	case parsed.Desktop:
		kind = "desktop"
	}

	return &domain.Device{Browser: browser, OS: parsed.OS, Kind: kind}
}

// coordinates prefers the platform geo headers and falls back to ipinfo "loc"
func coordinates(geo domain.Geo, info domain.IPInfo) (float64, float64, bool) {
	if lat, lon, ok := parseLatLon(geo.Latitude, geo.Longitude); ok {
		return lat, lon, true
	}
	if parts := strings.SplitN(info.Loc, ",", 2); len(parts) == 2 {
		return parseLatLon(parts[0], parts[1])
	}
	return 0, 0, false
}

func parseLatLon(latRaw, lonRaw string) (float64, float64, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if v != "" {
			return &v
		}
	}
	return nil
}
