package main

/*
#include <grp.h>
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

func fillGroup(g directory.Group, result *C.struct_group, buf *C.char, buflen C.size_t) C.int {
	ptrs, ok := packStrings(buf, buflen, g.Name, "x")
	if !ok {
		return C.NSS_STATUS_TRYAGAIN
	}
	result.gr_name = ptrs[0]
	result.gr_passwd = ptrs[1]
	result.gr_gid = C.gid_t(g.GID)
	result.gr_mem = packStringArray(g.Members)
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_setgrent
func _nss_authd_setgrent() (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	all, st := cache.AllGroups()
	if st != nssclient.StatusSuccess {
		return C.NSS_STATUS_UNAVAIL
	}
	groupIter.Open(all)
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_endgrent
func _nss_authd_endgrent() C.int {
	groupIter.Close()
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_getgrent_r
func _nss_authd_getgrent_r(result *C.struct_group, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	g, ok := groupIter.Next()
	if !ok {
		return C.NSS_STATUS_NOTFOUND
	}
	st := fillGroup(g, result, buf, buflen)
	if st == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return st
}

//export _nss_authd_getgrgid_r
func _nss_authd_getgrgid_r(gid C.gid_t, result *C.struct_group, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	g, st := cache.GroupByGID(uint32(gid))
	if st != nssclient.StatusSuccess {
		return statusToC(st, errnop)
	}
	out := fillGroup(*g, result, buf, buflen)
	if out == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return out
}

//export _nss_authd_getgrnam_r
func _nss_authd_getgrnam_r(name *C.char, result *C.struct_group, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	g, st := cache.GroupByName(C.GoString(name))
	if st != nssclient.StatusSuccess {
		return statusToC(st, errnop)
	}
	out := fillGroup(*g, result, buf, buflen)
	if out == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return out
}
