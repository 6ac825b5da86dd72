package main

/*
#include <shadow.h>
#include <errno.h>

enum {
	NSS_STATUS_TRYAGAIN = -2,
	NSS_STATUS_UNAVAIL  = 0,
	NSS_STATUS_NOTFOUND = 1,
	NSS_STATUS_SUCCESS  = 2,
};
*/
import "C"

import (
	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/nssclient"
)

// shadowDayCount returns -1 for an absent optional day count, the
// conventional shadow(5) sentinel for "field unset".
func shadowDayCount(v *int64) C.long {
	if v == nil {
		return -1
	}
	return C.long(*v)
}

func fillShadow(s directory.Shadow, result *C.struct_spwd, buf *C.char, buflen C.size_t) C.int {
	ptrs, ok := packStrings(buf, buflen, s.Name, s.Passwd)
	if !ok {
		return C.NSS_STATUS_TRYAGAIN
	}
	result.sp_namp = ptrs[0]
	result.sp_pwdp = ptrs[1]
	result.sp_lstchg = C.long(s.LastChange)
	result.sp_min = C.long(s.ChangeMinDays)
	result.sp_max = C.long(s.ChangeMaxDays)
	result.sp_warn = C.long(s.ChangeWarnDays)
	result.sp_inact = shadowDayCount(s.ChangeInactiveDays)
	result.sp_expire = shadowDayCount(s.ExpireDate)
	result.sp_flag = 0
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_setspent
func _nss_authd_setspent() (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	all, st := cache.AllShadow()
	if st != nssclient.StatusSuccess {
		return C.NSS_STATUS_UNAVAIL
	}
	shadowIter.Open(all)
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_endspent
func _nss_authd_endspent() C.int {
	shadowIter.Close()
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_getspent_r
func _nss_authd_getspent_r(result *C.struct_spwd, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	s, ok := shadowIter.Next()
	if !ok {
		return C.NSS_STATUS_NOTFOUND
	}
	st := fillShadow(s, result, buf, buflen)
	if st == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return st
}

//export _nss_authd_getspnam_r
func _nss_authd_getspnam_r(name *C.char, result *C.struct_spwd, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	s, st := cache.ShadowByName(C.GoString(name))
	if st != nssclient.StatusSuccess {
		return statusToC(st, errnop)
	}
	out := fillShadow(*s, result, buf, buflen)
	if out == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return out
}
