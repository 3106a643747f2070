package routes

import (
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lawsim/config"
	controller "lawsim/controllers"
	"lawsim/middleware"
	"lawsim/models"
	"lawsim/realtime"
	"lawsim/services"
)

// Dependencies carries everything the HTTP layer needs. Redis may be nil.
type Dependencies struct {
	Config      config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Access      *services.Access
	Licenses    *services.LicenseEnforcer
	Checkout    *services.LicenseCheckout
	Invitations *services.InvitationService
	Cache       *services.AiResponseCacheService
	Grading     *services.GradingService
	Releases    *services.EvidenceReleaseService
	Hub         *realtime.Hub
	Jobs        controller.JobEnqueuer
}

// NewApp builds the Fiber app with the shared middleware and every route
func NewApp(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "lawsim",
		ErrorHandler: controller.ErrorHandler,
		BodyLimit:    8 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.Config.CORSOrigins)))
	app.Use(middleware.RequestLogger())

	SetupRoutes(app, deps)
	return app
}

func SetupAuthRoutes(app *fiber.App, deps Dependencies) {
	authController := controller.NewAuthController(deps.DB, deps.Config.Google)

	auth := app.Group("/auth")
	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)
	auth.Post("/refresh", authController.RefreshToken)

	// Google OAuth routes
	auth.Get("/google", authController.GoogleOAuth)
	auth.Get("/google/callback", authController.GoogleOAuthCallback)

	protectedAuth := auth.Group("", middleware.Protected(deps.DB))
	protectedAuth.Post("/logout", authController.Logout)
	protectedAuth.Get("/me", authController.Me)
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	orgController := controller.NewOrganizationController(deps.DB, deps.Licenses, deps.Checkout)
	courseController := controller.NewCourseController(deps.DB, deps.Access, deps.Cache)
	invitationController := controller.NewInvitationController(deps.Access, deps.Invitations)
	caseController := controller.NewCaseController(deps.DB, deps.Access, deps.Cache, deps.Hub)
	teamController := controller.NewTeamController(deps.DB, deps.Access, deps.Cache)
	documentController := controller.NewDocumentController(deps.DB, deps.Access, deps.Licenses, deps.Releases, deps.Cache, deps.Hub)
	gradingController := controller.NewGradingController(deps.DB, deps.Access, deps.Grading)
	cacheController := controller.NewCacheController(deps.Cache, deps.Jobs)

	staff := middleware.RequireRole(models.RoleAdmin, models.RoleInstructor)
	admin := middleware.RequireRole(models.RoleAdmin)

	api := app.Group("/api/v1", middleware.Protected(deps.DB))

	// Organization and license routes
	orgs := api.Group("/organizations")
	orgs.Post("/", admin, orgController.CreateOrganization)
	orgs.Get("/", admin, orgController.ListOrganizations)
	orgs.Post("/:id/licenses", admin, orgController.GrantLicense)
	orgs.Get("/:id/licenses", admin, orgController.ListLicenses)
	orgs.Post("/:id/licenses/checkout", staff, orgController.StartCheckout)
	orgs.Get("/:id/usage", staff, orgController.Usage)
	api.Delete("/licenses/:id", admin, orgController.RevokeLicense)

	// Course routes
	courses := api.Group("/courses")
	courses.Post("/", staff, courseController.CreateCourse)
	courses.Get("/", courseController.ListCourses)
	courses.Get("/:id", courseController.GetCourse)
	courses.Put("/:id", staff, courseController.UpdateCourse)
	courses.Delete("/:id", staff, courseController.DeleteCourse)
	courses.Get("/:id/students", staff, courseController.ListStudents)
	courses.Delete("/:id/students/:userId", staff, courseController.RemoveStudent)

	// Invitation routes
	invitations := middleware.RequireFeature(deps.Licenses, models.FeatureInvitations)
	courses.Post("/:id/invitations", staff, invitations, invitationController.CreateInvitation)
	courses.Get("/:id/invitations", staff, invitationController.ListInvitations)
	api.Post("/invitations/accept", invitationController.AcceptInvitation)
	api.Delete("/invitations/:id", staff, invitationController.RevokeInvitation)

	// Case routes
	courses.Post("/:id/cases", staff, caseController.CreateCase)
	courses.Get("/:id/cases", caseController.ListCases)
	cases := api.Group("/cases")
	cases.Get("/:id", caseController.GetCase)
	cases.Put("/:id", staff, caseController.UpdateCase)
	cases.Delete("/:id", staff, caseController.DeleteCase)
	cases.Post("/:id/status", staff, caseController.UpdateStatus)
	cases.Get("/:id/events", caseController.ListEvents)
	cases.Post("/:id/events", staff, caseController.CreateEvent)

	// Team routes
	cases.Post("/:id/teams", staff, teamController.CreateTeam)
	cases.Get("/:id/teams", teamController.ListTeams)
	teams := api.Group("/teams", staff)
	teams.Delete("/:id", teamController.DeleteTeam)
	teams.Post("/:id/members", teamController.AddMember)
	teams.Delete("/:id/members/:userId", teamController.RemoveMember)

	// Document routes
	cases.Post("/:id/documents", documentController.CreateDocument)
	cases.Get("/:id/documents", documentController.ListDocuments)
	docs := api.Group("/documents")
	docs.Get("/:id", documentController.GetDocument)
	docs.Put("/:id", documentController.UpdateDocument)
	docs.Delete("/:id", documentController.DeleteDocument)
	docs.Post("/:id/release", staff, documentController.ReleaseDocument)
	docs.Post("/:id/grade",
		staff,
		middleware.RequireFeature(deps.Licenses, models.FeatureAIGrading),
		middleware.GradingRateLimiter(deps.Config.GradingRateLimit, middleware.NewRedisStorage(deps.Redis)),
		gradingController.GradeDocument,
	)

	// Admin cache and job routes
	adminGroup := api.Group("/admin", admin)
	adminGroup.Get("/cache/stats", cacheController.Stats)
	adminGroup.Delete("/cache/stats", cacheController.ResetStats)
	adminGroup.Post("/cache/cleanup", cacheController.Cleanup)
	adminGroup.Post("/cache/invalidate", cacheController.Invalidate)
	adminGroup.Post("/cache/warm", cacheController.Warm)
	adminGroup.Get("/jobs", cacheController.ListJobTypes)
	adminGroup.Post("/jobs", cacheController.EnqueueJob)

	// Payment webhook, authenticated by signature
	app.Post("/webhooks/stripe", orgController.StripeWebhook)
}

func SetupLiveFeedRoutes(app *fiber.App, deps Dependencies) {
	feed := controller.NewLiveFeedController(deps.Access, deps.Licenses, deps.Hub)
	app.Get("/ws/cases/:id", middleware.Protected(deps.DB), feed.Authorize, websocket.New(feed.Stream))
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	health := controller.NewHealthController(deps.DB, deps.Redis)
	app.Get("/health", health.Health)

	SetupAuthRoutes(app, deps)
	SetupAPIRoutes(app, deps)
	SetupLiveFeedRoutes(app, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	logrus.WithField("component", "routes").Debug("routes initialized")
}
