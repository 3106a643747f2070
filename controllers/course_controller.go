package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
	"lawsim/utils"
)

type CreateCourseRequest struct {
	Title          string `json:"title" validate:"required,max=200"`
	Code           string `json:"code" validate:"omitempty,max=50"`
	Term           string `json:"term" validate:"omitempty,max=50"`
	Description    string `json:"description"`
	OrganizationID uint   `json:"organization_id"`
	InstructorID   uint   `json:"instructor_id"`
}

type UpdateCourseRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Code        *string `json:"code" validate:"omitempty,max=50"`
	Term        *string `json:"term" validate:"omitempty,max=50"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type CourseController struct {
	DB     *gorm.DB
	Access *services.Access
	Cache  services.Invalidator
	log    *logrus.Entry
}

func NewCourseController(db *gorm.DB, access *services.Access, cache services.Invalidator) *CourseController {
	return &CourseController{
		DB:     db,
		Access: access,
		Cache:  cache,
		log:    logrus.WithField("component", "course_controller"),
	}
}

// CreateCourse places the course in the instructor's organization. Admins
// may pick the organization and instructor.
func (cc *CourseController) CreateCourse(c *fiber.Ctx) error {
	user := currentUser(c)
	var req CreateCourseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	course := models.Course{
		Title:        req.Title,
		Code:         req.Code,
		Term:         req.Term,
		Description:  req.Description,
		InstructorID: user.ID,
		IsActive:     true,
	}
	if user.IsAdmin() {
		if req.OrganizationID == 0 || req.InstructorID == 0 {
			return badRequestErr("organization_id and instructor_id are required")
		}
		var instructor models.User
		if err := cc.DB.First(&instructor, req.InstructorID).Error; err != nil {
			return writeError(c, err)
		}
		if !instructor.IsInstructor() && !instructor.IsAdmin() {
			return badRequestErr("instructor_id must belong to an instructor")
		}
		course.OrganizationID = req.OrganizationID
		course.InstructorID = instructor.ID
	} else {
		if user.OrganizationID == nil {
			return writeError(c, services.ErrForbidden)
		}
		course.OrganizationID = *user.OrganizationID
	}

	var org models.Organization
	if err := cc.DB.First(&org, course.OrganizationID).Error; err != nil {
		return writeError(c, err)
	}
	if err := cc.DB.Create(&course).Error; err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(course)
}

// ListCourses returns what the caller can see: everything for admins, taught
// courses for instructors and enrolled courses for students
func (cc *CourseController) ListCourses(c *fiber.Ctx) error {
	user := currentUser(c)
	page, limit, offset := utils.Pagination(c)

	q := cc.DB.Model(&models.Course{})
	switch {
	case user.IsAdmin():
	case user.IsInstructor():
		q = q.Where("instructor_id = ?", user.ID)
	default:
		q = q.Where("id IN (?)", cc.DB.Model(&models.Enrollment{}).Select("course_id").Where("user_id = ?", user.ID))
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return writeError(c, err)
	}
	var courses []models.Course
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&courses).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(utils.PaginatedResponse{Data: courses, Total: total, Page: page, Limit: limit})
}

func (cc *CourseController) GetCourse(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	course, err := cc.Access.CourseForViewer(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(course)
}

func (cc *CourseController) UpdateCourse(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	course, err := cc.Access.CourseForManager(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	var req UpdateCourseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Code != nil {
		updates["code"] = *req.Code
	}
	if req.Term != nil {
		updates["term"] = *req.Term
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) > 0 {
		if err := cc.DB.Model(course).Updates(updates).Error; err != nil {
			return writeError(c, err)
		}
	}
	if err := cc.DB.First(course, course.ID).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(course)
}

func (cc *CourseController) DeleteCourse(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	course, err := cc.Access.CourseForManager(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	if err := cc.DB.Delete(course).Error; err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (cc *CourseController) ListStudents(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	course, err := cc.Access.CourseForManager(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	var enrollments []models.Enrollment
	if err := cc.DB.Preload("User").Where("course_id = ?", course.ID).Order("id").Find(&enrollments).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(enrollments)
}

// RemoveStudent deletes the enrollment and the user's team memberships in the
// course's cases
func (cc *CourseController) RemoveStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	userID, err := paramID(c, "userId")
	if err != nil {
		return err
	}
	course, err := cc.Access.CourseForManager(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}

	var teamIDs []uint
	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("course_id = ? AND user_id = ?", course.ID, userID).Delete(&models.Enrollment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return services.ErrNotFound
		}
		cases := tx.Model(&models.Case{}).Select("id").Where("course_id = ?", course.ID)
		memberships := tx.Unscoped().Where("user_id = ? AND case_id IN (?)", userID, cases)
		if err := memberships.Session(&gorm.Session{}).Model(&models.TeamMember{}).Pluck("team_id", &teamIDs).Error; err != nil {
			return err
		}
		return memberships.Session(&gorm.Session{}).Delete(&models.TeamMember{}).Error
	})
	if err != nil {
		return writeError(c, err)
	}

	for _, teamID := range teamIDs {
		invalidate(c, cc.Cache, cc.log, services.InvalidationEvent{Type: services.InvalidateTeamChanged, TeamID: teamID})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
