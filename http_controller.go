package savvy

import (
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// GetRouterSession rebuilds a SessionObject from the claims the middleware
// stored in Locals.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	claims, ok := GetRouterClaims(c, key)
	if !ok {
		return nil, ErrUnableToDecodeSession
	}
	return sessionFromAuthClaims(claims)
}

// RegisterAuthRoutes mounts the full JSON API on the router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	protect := controller.Auther.ProtectedRoute(
		controller.Config,
		controller.Auther.MakeClientRouteAuthErrorHandler(false),
	)

	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("auth.register")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login")
	app.Post(controller.Routes.Refresh, controller.RefreshPost).
		SetName("auth.refresh")
	app.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("auth.logout")

	app.Get(controller.Routes.Groups, protect(controller.GroupsList)).
		SetName("groups.list")
	app.Post(controller.Routes.Groups, protect(controller.GroupsCreate)).
		SetName("groups.create")
	app.Get(fmt.Sprintf("%s/:id", controller.Routes.Groups), protect(controller.GroupsShow)).
		SetName("groups.show")
	app.Patch(fmt.Sprintf("%s/:id", controller.Routes.Groups), protect(controller.GroupsUpdate)).
		SetName("groups.update")
	app.Get(fmt.Sprintf("%s/:id/invitations", controller.Routes.Groups), protect(controller.GroupInvitationsList)).
		SetName("groups.invitations.list")
	app.Post(fmt.Sprintf("%s/:id/invitations", controller.Routes.Groups), protect(controller.InvitationsCreate)).
		SetName("groups.invitations.create")

	app.Get(controller.Routes.Invitations, protect(controller.InvitationsList)).
		SetName("invitations.list")
	app.Post(fmt.Sprintf("%s/:id/rsvp", controller.Routes.Invitations), protect(controller.InvitationsRSVP)).
		SetName("invitations.rsvp")
	app.Post(fmt.Sprintf("%s/:id/withdraw", controller.Routes.Invitations), protect(controller.InvitationsWithdraw)).
		SetName("invitations.withdraw")

	return controller
}

type AuthControllerRoutes struct {
	Register    string
	Login       string
	Refresh     string
	Logout      string
	Groups      string
	Invitations string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Config       Config
	Session      *SessionManager
	Groups       *GroupService
	Invitations  *InvitationEngine
	Auther       *RouteAuthenticator
	Routes       *AuthControllerRoutes
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Register:    "/auth/register",
			Login:       "/auth/login",
			Refresh:     "/auth/refresh",
			Logout:      "/auth/logout",
			Groups:      "/groups",
			Invitations: "/invitations",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = RenderError
	}

	if c.Config == nil {
		panic("Missing Config in auth controller...")
	}

	if c.Session == nil {
		panic("Missing SessionManager in auth controller...")
	}

	if c.Groups == nil {
		panic("Missing GroupService in auth controller...")
	}

	if c.Invitations == nil {
		panic("Missing InvitationEngine in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Config = cfg
		return c
	}
}

func WithControllerSession(session *SessionManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Session = session
		return c
	}
}

func WithControllerGroups(groups *GroupService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Groups = groups
		return c
	}
}

func WithControllerInvitations(invitations *InvitationEngine) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Invitations = invitations
		return c
	}
}

func WithControllerAuther(auther *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// RegisterPayload is the signup body
type RegisterPayload struct {
	Name     string `form:"name" json:"name"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	user, pair, err := a.Session.Register(ctx.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		a.Logger.Error("register user error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"name":          user.Name,
		"email":         user.Email,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_at":    pair.ExpiresAt,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Email
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	pair, err := a.Session.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Error("login error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, pair)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *AuthController) RefreshPost(ctx router.Context) error {
	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	pair, err := a.Session.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		a.Logger.Error("refresh error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, pair)
}

func (a *AuthController) LogoutPost(ctx router.Context) error {
	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	if err := a.Session.Logout(ctx.Context(), payload.RefreshToken); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

// GroupCreatePayload is the new group body
type GroupCreatePayload struct {
	Name  string `form:"name" json:"name"`
	Color string `form:"color" json:"color"`
	Icon  string `form:"icon" json:"icon"`
}

// Validate will run validation rules
func (r GroupCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Color, validation.Length(0, 50)),
		validation.Field(&r.Icon, validation.Length(0, 50)),
	)
}

func (a *AuthController) GroupsCreate(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(GroupCreatePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	group, err := a.Groups.Create(ctx.Context(), callerID, &Group{
		Name:  payload.Name,
		Color: payload.Color,
		Icon:  payload.Icon,
	})
	if err != nil {
		a.Logger.Error("group create error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, group)
}

// GroupUpdatePayload is the group settings patch body. Absent fields are
// left untouched.
type GroupUpdatePayload struct {
	Name  *string `form:"name" json:"name"`
	Color *string `form:"color" json:"color"`
	Icon  *string `form:"icon" json:"icon"`
}

// Validate will run validation rules
func (r GroupUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.Color, validation.Length(0, 50)),
		validation.Field(&r.Icon, validation.Length(0, 50)),
	)
}

func (a *AuthController) GroupsUpdate(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	groupID, err := a.uuidParam(ctx, "id")
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(GroupUpdatePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	group, err := a.Groups.Update(ctx.Context(), callerID, groupID, GroupUpdate{
		Name:  payload.Name,
		Color: payload.Color,
		Icon:  payload.Icon,
	})
	if err != nil {
		a.Logger.Error("group update error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, group)
}

func (a *AuthController) GroupsList(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	records, err := a.Groups.List(ctx.Context(), callerID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	groups := make([]map[string]any, 0, len(records))
	for _, m := range records {
		if m.Group == nil {
			continue
		}
		groups = append(groups, map[string]any{
			"id":    m.Group.ID,
			"name":  m.Group.Name,
			"color": m.Group.Color,
			"icon":  m.Group.Icon,
			"role":  m.Role,
		})
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"groups": groups,
	})
}

func (a *AuthController) GroupsShow(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	groupID, err := a.uuidParam(ctx, "id")
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	group, err := a.Groups.Get(ctx.Context(), callerID, groupID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, group)
}

// InvitationCreatePayload is the new invitation body
type InvitationCreatePayload struct {
	InviteeID string `form:"invitee_id" json:"invitee_id"`
	Role      string `form:"role" json:"role"`
}

// Validate will run validation rules
func (r InvitationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.InviteeID, validation.Required, is.UUID),
		validation.Field(&r.Role, validation.In(RoleViewer, RoleMember, RoleAdmin)),
	)
}

func (a *AuthController) InvitationsCreate(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	groupID, err := a.uuidParam(ctx, "id")
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(InvitationCreatePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	inviteeID, err := uuid.Parse(payload.InviteeID)
	if err != nil {
		return a.renderValidationError(ctx, err)
	}

	invitation, err := a.Invitations.Invite(ctx.Context(), InviteRequest{
		GroupID:   groupID,
		EmitterID: callerID,
		InviteeID: inviteeID,
		Role:      GroupRole(payload.Role),
	})
	if err != nil {
		a.Logger.Error("invitation create error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, invitation)
}

func (a *AuthController) GroupInvitationsList(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	groupID, err := a.uuidParam(ctx, "id")
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	records, err := a.Invitations.ListForGroup(ctx.Context(), callerID, groupID, a.statusFilter(ctx)...)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"invitations": records,
	})
}

func (a *AuthController) InvitationsList(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	var records []*Invitation
	if ctx.Query("box") == "sent" {
		records, err = a.Invitations.ListSent(ctx.Context(), callerID, a.statusFilter(ctx)...)
	} else {
		records, err = a.Invitations.ListReceived(ctx.Context(), callerID, a.statusFilter(ctx)...)
	}
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"invitations": records,
	})
}

// InvitationRSVPPayload carries the invitee's decision
type InvitationRSVPPayload struct {
	Accept *bool `form:"accept" json:"accept"`
}

// Validate will run validation rules
func (r InvitationRSVPPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Accept, validation.NotNil),
	)
}

func (a *AuthController) InvitationsRSVP(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	invitationID, err := a.uuidParam(ctx, "id")
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(InvitationRSVPPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.renderBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidationError(ctx, err)
	}

	invitation, err := a.Invitations.RSVP(ctx.Context(), invitationID, callerID, *payload.Accept)
	if err != nil {
		a.Logger.Error("invitation rsvp error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, invitation)
}

func (a *AuthController) InvitationsWithdraw(ctx router.Context) error {
	callerID, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	invitationID, err := a.uuidParam(ctx, "id")
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	invitation, err := a.Invitations.Withdraw(ctx.Context(), invitationID, callerID)
	if err != nil {
		a.Logger.Error("invitation withdraw error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, invitation)
}

func (a *AuthController) caller(ctx router.Context) (uuid.UUID, error) {
	claims, ok := GetRouterClaims(ctx, a.Config.GetContextKey())
	if !ok {
		return uuid.Nil, ErrUnableToDecodeSession
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return uuid.Nil, ErrUnableToDecodeSession
	}

	return id, nil
}

func (a *AuthController) uuidParam(ctx router.Context, name string) (uuid.UUID, error) {
	raw := ctx.Param(name, "")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("malformed id in path", errors.CategoryBadInput).
			WithTextCode("MALFORMED_ID").
			WithCode(errors.CodeBadRequest).
			WithMetadata(map[string]any{"param": name, "value": raw})
	}
	return id, nil
}

func (a *AuthController) statusFilter(ctx router.Context) []InvitationStatus {
	raw := ctx.Query("status")
	if raw == "" {
		return nil
	}
	if _, ok := parseInvitationStatus(raw); !ok {
		return nil
	}
	return []InvitationStatus{raw}
}

func parseInvitationStatus(raw string) (InvitationStatus, bool) {
	switch raw {
	case InvitationPending, InvitationAccepted, InvitationRejected, InvitationWithdrawn:
		return raw, true
	default:
		return "", false
	}
}

func (a *AuthController) renderBindError(ctx router.Context, err error) error {
	a.Logger.Error("failed to parse payload: %v", err)
	return ctx.JSON(http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message":   "failed to parse request body",
			"text_code": "MALFORMED_BODY",
		},
	})
}

func (a *AuthController) renderValidationError(ctx router.Context, err error) error {
	a.Logger.Error("failed to validate payload: %v", err)
	return ctx.JSON(http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message":   "validation failed",
			"text_code": "VALIDATION",
			"fields":    FormatValidationErrorToMap(err),
		},
	})
}

// FormatValidationErrorToMap flattens ozzo validation errors to field messages.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	out["error"] = err.Error()
	return out
}
