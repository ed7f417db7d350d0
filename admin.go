package bloggart

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/bloggart/markup"
)

const defaultAdminPageSize = 20

// adminData is passed to every admin template.
type adminData struct {
	Site    siteView
	User    string
	Token   func(string) string
	Message string

	LoginFailed bool

	Posts []*Post
	Pages []*Page
	Pager pager

	Form          postForm
	MarkupChoices []markup.Choice
	Action        string
	Errors        map[string]string
	Draft         bool
	Post          *Post
	Rendered      template.HTML

	PageForm  pageForm
	OldPath   string
	Templates []pageTemplate
	Page      *Page

	Images []Image
}

type pager struct {
	Offset, Count int
	HasPrev       bool
	HasNext       bool
	PrevOffset    int
	NextOffset    int
}

func newPager(offset, count, got int) pager {
	p := pager{Offset: offset, Count: count, HasPrev: offset > 0, HasNext: got > count}
	p.PrevOffset = max(offset-count, 0)
	p.NextOffset = offset + count
	return p
}

func pageParams(c echo.Context) (offset, count int) {
	offset, _ = strconv.Atoi(c.QueryParam("start"))
	count, _ = strconv.Atoi(c.QueryParam("count"))
	if offset < 0 {
		offset = 0
	}
	if count <= 0 || count > 100 {
		count = defaultAdminPageSize
	}
	return offset, count
}

func (a *App) adminData(c echo.Context) adminData {
	return adminData{
		Site:    a.siteView(),
		User:    CurrentUser(c),
		Token:   a.tokenFunc(c),
		Message: c.QueryParam("msg"),
	}
}

func (a *App) renderAdmin(c echo.Context, code int, name string, data adminData) error {
	return RenderStatus(c, code, a.Theme.Component("admin/"+name, data))
}

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return a.renderAdmin(c, http.StatusOK, "login.html", a.adminData(c))
	}
	return a.handlePostList(c)
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	user := c.FormValue("user")
	pass := c.FormValue("password")
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.Config.AdminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1
	if userOK && passOK {
		if err := setAdminSession(c, a.Config.AdminUser); err != nil {
			return err
		}
		a.log.Info().Str("user", user).Str("remote_ip", ip).Msg("admin login")
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.loginLimiter.Record(ip)
	a.log.Warn().Str("remote_ip", ip).Msg("admin login failed")
	data := a.adminData(c)
	data.LoginFailed = true
	return a.renderAdmin(c, http.StatusUnauthorized, "login.html", data)
}

func (a *App) handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

// Posts

func (a *App) handlePostList(c echo.Context) error {
	offset, count := pageParams(c)
	posts, err := a.Store.ListPosts(c.Request().Context(), offset, count+1)
	if err != nil {
		return err
	}
	data := a.adminData(c)
	data.Pager = newPager(offset, count, len(posts))
	if len(posts) > count {
		posts = posts[:count]
	}
	data.Posts = posts
	return a.renderAdmin(c, http.StatusOK, "index.html", data)
}

// postParam loads the post named by the :id route parameter.
func (a *App) postParam(c echo.Context) (*Post, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, echo.ErrNotFound
	}
	p, err := a.Store.GetPost(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return nil, echo.ErrNotFound
	}
	return p, err
}

func (a *App) renderPostForm(c echo.Context, code int, form postForm, errs map[string]string) error {
	data := a.adminData(c)
	data.Form = form
	data.Errors = errs
	data.MarkupChoices = markup.Choices()
	data.Action = "/admin/newpost"
	if form.ID != 0 {
		data.Action = fmt.Sprintf("/admin/post/%d", form.ID)
	}
	return a.renderAdmin(c, code, "edit.html", data)
}

func (a *App) handleNewPost(c echo.Context) error {
	return a.renderPostForm(c, http.StatusOK, postFormFor(nil, a.Config.DefaultMarkup), nil)
}

func (a *App) handleEditPost(c echo.Context) error {
	p, err := a.postParam(c)
	if err != nil {
		return err
	}
	return a.renderPostForm(c, http.StatusOK, postFormFor(p, a.Config.DefaultMarkup), nil)
}

func (a *App) handleSaveNewPost(c echo.Context) error {
	return a.savePost(c, &Post{})
}

func (a *App) handleSavePost(c echo.Context) error {
	p, err := a.postParam(c)
	if err != nil {
		return err
	}
	return a.savePost(c, p)
}

func (a *App) savePost(c echo.Context, p *Post) error {
	form := bindPostForm(c)
	form.ID = p.ID
	if err := form.Validate(); err != nil {
		return a.renderPostForm(c, http.StatusUnprocessableEntity, form, formErrors(err))
	}
	form.apply(p)
	if err := a.PublishPost(c.Request().Context(), p, form.Body, form.Draft); err != nil {
		return err
	}
	data := a.adminData(c)
	data.Post = p
	data.Draft = form.Draft
	return a.renderAdmin(c, http.StatusOK, "published.html", data)
}

func (a *App) handleDeletePost(c echo.Context) error {
	p, err := a.postParam(c)
	if err != nil {
		return err
	}
	if err := a.DeletePost(c.Request().Context(), p); err != nil {
		return err
	}
	data := a.adminData(c)
	data.Post = p
	return a.renderAdmin(c, http.StatusOK, "deleted.html", data)
}

func (a *App) handlePreviewPost(c echo.Context) error {
	p, err := a.postParam(c)
	if err != nil {
		return err
	}
	preview := *p
	if preview.Draft != "" {
		preview.Body = preview.Draft
	}
	rendered, err := a.renderBody(&preview)
	if err != nil {
		return err
	}
	data := a.adminData(c)
	data.Post = p
	data.Rendered = rendered
	return a.renderAdmin(c, http.StatusOK, "preview.html", data)
}

// Pages

func (a *App) handlePageList(c echo.Context) error {
	offset, count := pageParams(c)
	pages, err := a.Store.ListPages(c.Request().Context(), offset, count+1)
	if err != nil {
		return err
	}
	data := a.adminData(c)
	data.Pager = newPager(offset, count, len(pages))
	if len(pages) > count {
		pages = pages[:count]
	}
	data.Pages = pages
	return a.renderAdmin(c, http.StatusOK, "pages.html", data)
}

// pageParam loads the page whose path follows the route prefix.
func (a *App) pageParam(c echo.Context) (*Page, error) {
	p, err := a.Store.GetPage(c.Request().Context(), "/"+c.Param("*"))
	if errors.Is(err, ErrNotFound) {
		return nil, echo.ErrNotFound
	}
	return p, err
}

func (a *App) renderPageForm(c echo.Context, code int, form pageForm, oldPath string, errs map[string]string) error {
	data := a.adminData(c)
	data.PageForm = form
	data.OldPath = oldPath
	data.Errors = errs
	data.Templates = a.pageTemplates()
	data.Action = "/admin/newpage"
	if oldPath != "" {
		data.Action = "/admin/page/edit" + oldPath
	}
	return a.renderAdmin(c, code, "editpage.html", data)
}

func (a *App) handleNewPage(c echo.Context) error {
	form := pageForm{}
	if t := a.pageTemplates(); len(t) > 0 {
		form.Template = t[0].File
	}
	return a.renderPageForm(c, http.StatusOK, form, "", nil)
}

func (a *App) handleEditPage(c echo.Context) error {
	p, err := a.pageParam(c)
	if err != nil {
		return err
	}
	return a.renderPageForm(c, http.StatusOK, pageFormFor(p), p.Path, nil)
}

func (a *App) handleSaveNewPage(c echo.Context) error {
	return a.savePage(c, nil)
}

func (a *App) handleSavePage(c echo.Context) error {
	p, err := a.pageParam(c)
	if err != nil {
		return err
	}
	return a.savePage(c, p)
}

func (a *App) savePage(c echo.Context, existing *Page) error {
	ctx := c.Request().Context()
	form := bindPageForm(c)
	oldPath := ""
	if existing != nil {
		oldPath = existing.Path
	}
	if err := form.validate(a.pageTemplates()); err != nil {
		return a.renderPageForm(c, http.StatusUnprocessableEntity, form, oldPath, formErrors(err))
	}
	if form.Path != oldPath {
		if err := a.checkPathFree(c, form.Path); err != nil {
			return a.renderPageForm(c, http.StatusUnprocessableEntity, form, oldPath, map[string]string{"path": err.Error()})
		}
	}
	page := &Page{Path: form.Path, Title: form.Title, Template: form.Template, Body: form.Body}
	if existing != nil {
		page.Created = existing.Created
	}
	if err := a.PublishPage(ctx, page, oldPath); err != nil {
		return err
	}
	data := a.adminData(c)
	data.Page = page
	return a.renderAdmin(c, http.StatusOK, "publishedpage.html", data)
}

// checkPathFree reports an error when path already serves another page or
// a post.
func (a *App) checkPathFree(c echo.Context, path string) error {
	ctx := c.Request().Context()
	for _, reserved := range []string{"/admin", "/static", "/feeds", "/tag", "/archive", "/page"} {
		if path == reserved || strings.HasPrefix(path, reserved+"/") {
			return fmt.Errorf("paths under %s are reserved", reserved)
		}
	}
	if _, err := a.Store.GetPage(ctx, path); err == nil {
		return errors.New("another page already uses this path")
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	taken, err := a.Store.PathTaken(ctx, path)
	if err != nil {
		return err
	}
	if taken {
		return errors.New("a post already uses this path")
	}
	return nil
}

func (a *App) handleDeletePage(c echo.Context) error {
	p, err := a.pageParam(c)
	if err != nil {
		return err
	}
	if err := a.DeletePage(c.Request().Context(), p); err != nil {
		return err
	}
	data := a.adminData(c)
	data.Page = p
	return a.renderAdmin(c, http.StatusOK, "deletedpage.html", data)
}

func (a *App) handleRegenerate(c echo.Context) error {
	if err := a.Regenerate(c.Request().Context()); err != nil {
		return err
	}
	return a.renderAdmin(c, http.StatusOK, "regenerating.html", a.adminData(c))
}
