package server

import (
	"net/http"
	"time"

	"library-lending/library"
)

type createBookRequest struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	ISBN      string `json:"isbn"`
	Publisher string `json:"publisher"`
	Year      int    `json:"year"`
	Category  string `json:"category"`
	Location  string `json:"location"`
}

type updateBookRequest struct {
	Title     *string `json:"title"`
	Author    *string `json:"author"`
	ISBN      *string `json:"isbn"`
	Publisher *string `json:"publisher"`
	Year      *int    `json:"year"`
	Category  *string `json:"category"`
	Location  *string `json:"location"`
}

type createUserRequest struct {
	Name  string           `json:"name"`
	Email string           `json:"email"`
	Phone string           `json:"phone"`
	Type  library.UserType `json:"type"`
}

type updateUserRequest struct {
	Name     *string           `json:"name"`
	Email    *string           `json:"email"`
	Phone    *string           `json:"phone"`
	Type     *library.UserType `json:"type"`
	IsActive *bool             `json:"isActive"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type createLoanRequest struct {
	BookID   int64      `json:"bookId"`
	UserID   int64      `json:"userId"`
	LoanDate *time.Time `json:"loanDate"`
	DueDate  *time.Time `json:"dueDate"`
	Notes    string     `json:"notes"`
}

type updateLoanRequest struct {
	DueDate *time.Time `json:"dueDate"`
	BookID  *int64     `json:"bookId"`
	UserID  *int64     `json:"userId"`
	Notes   *string    `json:"notes"`
}

type returnLoanRequest struct {
	Notes *string `json:"notes"`
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	available, err := queryBool(r, "available")
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := library.BookFilter{
		Available: available,
		Author:    q.Get("author"),
		Category:  q.Get("category"),
		Query:     q.Get("q"),
		Sort:      q.Get("sort"),
	}
	books, total, err := s.lib.ListBooks(r.Context(), f, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeList(w, books, p, total)
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	book, err := s.lib.AddBook(r.Context(), library.NewBook(req))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, book)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	book, err := s.lib.GetBook(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, book)
}

func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req updateBookRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	book, err := s.lib.UpdateBook(r.Context(), id, library.BookPatch(req))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, book)
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	err = s.lib.DeleteBook(r.Context(), id)
	s.metrics.observeLending("delete_book", err)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	active, err := queryBool(r, "active")
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := library.UserFilter{Active: active, Type: library.UserType(q.Get("type")), Query: q.Get("q")}
	users, total, err := s.lib.ListUsers(r.Context(), f, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeList(w, users, p, total)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	user, err := s.lib.AddUser(r.Context(), library.NewUser(req))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	user, err := s.lib.GetUser(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	user, err := s.lib.UpdateUser(r.Context(), id, library.UserPatch(req))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	err = s.lib.DeleteUser(r.Context(), id)
	s.metrics.observeLending("delete_user", err)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req passwordRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.lib.SetUserPassword(r.Context(), id, req.Password); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req passwordRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	user, err := s.lib.AuthenticateUser(r.Context(), id, req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	bookID, err := queryID(r, "bookId")
	if err != nil {
		fail(w, r, err)
		return
	}
	userID, err := queryID(r, "userId")
	if err != nil {
		fail(w, r, err)
		return
	}
	f := library.LoanFilter{Status: r.URL.Query().Get("status"), BookID: bookID, UserID: userID}
	loans, total, err := s.lib.ListLoans(r.Context(), f, p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeList(w, loans, p, total)
}

func (s *Server) createLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	if req.BookID <= 0 || req.UserID <= 0 {
		fail(w, r, badRequest("bookId and userId are required"))
		return
	}
	in := library.CreateLoanRequest{BookID: req.BookID, UserID: req.UserID, Notes: req.Notes}
	if req.LoanDate != nil {
		in.LoanDate = *req.LoanDate
	}
	if req.DueDate != nil {
		in.DueDate = *req.DueDate
	}
	loan, err := s.lib.CreateLoan(r.Context(), in)
	s.metrics.observeLending("create", err)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, loan)
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	loan, err := s.lib.GetLoan(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loan)
}

func (s *Server) updateLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req updateLoanRequest
	if err := decode(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	loan, err := s.lib.UpdateLoan(r.Context(), id, library.LoanUpdate(req))
	s.metrics.observeLending("update", err)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loan)
}

func (s *Server) returnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req returnLoanRequest
	if err := decode(r, &req, true); err != nil {
		fail(w, r, err)
		return
	}
	loan, err := s.lib.ReturnLoan(r.Context(), id, req.Notes)
	s.metrics.observeLending("return", err)
	if err != nil {
		if loan != nil {
			// The loan is returned; only the availability follow-up failed.
			s.log.Error("return left book unsynchronized", "loan_id", loan.ID, "book_id", loan.BookID, "error", err)
		}
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loan)
}

func (s *Server) deleteLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	err = s.lib.DeleteLoan(r.Context(), id)
	s.metrics.observeLending("delete", err)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	top, err := queryInt(r, "top", 5)
	if err != nil {
		fail(w, r, err)
		return
	}
	st, err := s.lib.Stats(r.Context(), top)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.lib.Reconcile(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	s.metrics.observeReconcile(report)
	writeData(w, http.StatusOK, report)
}
