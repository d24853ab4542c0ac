package http

import "net/http"

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, err := ParseMonthParams(r.URL.Query(), s.now().In(s.loc))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ov, err := s.svc.Dashboard.MonthOverview(r.Context(), userID(r), p.Year, p.Month)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(ov).Write(w)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.svc.Dashboard.Balances(r.Context(), userID(r))
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(balances)).Write(w)
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	months, err := ParseIntParam(r.URL.Query(), "months", 12)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	points, err := s.svc.Dashboard.NetWorth(r.Context(), userID(r), months)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(points)).Write(w)
}
